package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/infrastructure/database"
	"github.com/geektown/Nano-Bananary/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 打开每个测试独享的内存 SQLite
// 连接池限制为单连接，事务在池上天然串行，避免 SQLITE_BUSY
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.CreditEvent = "credit-event-test"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.ExpireHours = 1
	cfg.Business.SignupRewardCredits = 15
	cfg.Business.RefundWindowHours = 24
	cfg.Business.PaymentTimeoutMinutes = 30
	cfg.Business.MaxRetryCount = 5
	return cfg
}

// registerTestUser 走注册流程创建用户：带账户和 15 积分注册奖励
func registerTestUser(t *testing.T, db *gorm.DB, cfg *config.Config, email string) *model.User {
	t.Helper()

	ledger := NewLedgerService(db)
	auth := NewAuthService(db, cfg, ledger)

	user, err := auth.Register(context.Background(), "测试用户", email, "password123")
	require.NoError(t, err)
	return user
}
