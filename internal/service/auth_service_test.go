package service

import (
	"context"
	"testing"

	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesAccountWithReward(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	ledger := NewLedgerService(db)
	auth := NewAuthService(db, cfg, ledger)
	ctx := context.Background()

	user, err := auth.Register(ctx, "小明", "xiaoming@test.com", "password123")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)

	// 账户随用户创建，注册奖励走账本入账
	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), account.Balance)

	transactions, total, err := ledger.ListTransactions(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, model.TransactionTypeReward, transactions[0].Type)
	assert.Equal(t, int64(0), transactions[0].PreviousBalance)
	assert.Equal(t, int64(15), transactions[0].CurrentBalance)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	auth := NewAuthService(db, cfg, NewLedgerService(db))
	ctx := context.Background()

	_, err := auth.Register(ctx, "一号", "dup@test.com", "password123")
	require.NoError(t, err)

	_, err = auth.Register(ctx, "二号", "dup@test.com", "password456")
	assert.ErrorIs(t, err, repository.ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	auth := NewAuthService(db, cfg, NewLedgerService(db))
	ctx := context.Background()

	registered, err := auth.Register(ctx, "登录用户", "login@test.com", "password123")
	require.NoError(t, err)

	user, err := auth.Login(ctx, "login@test.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = auth.Login(ctx, "login@test.com", "wrongpass")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	// 不存在的邮箱与密码错误返回同一错误，不泄露账号是否存在
	_, err = auth.Login(ctx, "nobody@test.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestLoginRequireVerifiedEmail(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	cfg.Business.RequireVerifiedEmail = true
	auth := NewAuthService(db, cfg, NewLedgerService(db))
	ctx := context.Background()

	user, err := auth.Register(ctx, "未验证", "unverified@test.com", "password123")
	require.NoError(t, err)

	_, err = auth.Login(ctx, "unverified@test.com", "password123")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	// 验证通过后可登录
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", user.ID).Update("is_verified", true).Error)

	_, err = auth.Login(ctx, "unverified@test.com", "password123")
	assert.NoError(t, err)
}
