package service

import (
	"context"
	"testing"
	"time"

	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFor(t *testing.T) {
	price, err := PriceFor(model.ServiceKeyImageEdit)
	require.NoError(t, err)
	assert.Equal(t, int64(5), price)

	price, err = PriceFor(model.ServiceKeyVideoGenerate)
	require.NoError(t, err)
	assert.Equal(t, int64(10), price)

	_, err = PriceFor("ai-music")
	assert.ErrorIs(t, err, ErrUnknownService)
}

// 新用户注册赠送 15 积分 → 图片编辑消费 5 → 余额 10，
// 一条 SUCCESS 用量记录，一条 -5 的 WITHDRAWAL 流水
func TestConsumeImageEditScenario(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "consume@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyImageEdit, 5, "图片编辑")
	require.NoError(t, err)

	assert.Equal(t, model.UsageStatusSuccess, usage.Status)
	assert.Equal(t, int64(5), usage.CreditsUsed)
	assert.NotEmpty(t, usage.UsageNo)

	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Balance)

	transactions, err := repository.NewTransactionRepository(db).GetByRelatedOrder(ctx, usage.UsageNo)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, model.TransactionTypeWithdrawal, transactions[0].Type)
	assert.Equal(t, int64(-5), transactions[0].Amount)
}

func TestConsumeInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "broke@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyVideoGenerate, 100, "视频生成")
	require.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	// 失败也要留痕：一条 FAILED 用量，余额分文未动
	require.NotNil(t, usage)
	assert.Equal(t, model.UsageStatusFailed, usage.Status)
	assert.Equal(t, "积分余额不足", usage.Details)

	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), account.Balance)
}

func TestRefundWithinWindow(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "refund@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyImageEdit, 5, "图片编辑")
	require.NoError(t, err)

	refunded, err := consume.Refund(ctx, usage.UsageNo, "生成失败")
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusRefunded, refunded.Status)

	// 积分原数退回，补偿流水关联同一用量单号
	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), account.Balance)

	transactions, err := repository.NewTransactionRepository(db).GetByRelatedOrder(ctx, usage.UsageNo)
	require.NoError(t, err)
	require.Len(t, transactions, 2) // 扣减 + 退款
	assert.Equal(t, model.TransactionTypeDeposit, transactions[1].Type)
	assert.Equal(t, int64(5), transactions[1].Amount)

	// 重复退款：状态已非 SUCCESS，拒绝且余额不变
	_, err = consume.Refund(ctx, usage.UsageNo, "再退一次")
	assert.ErrorIs(t, err, repository.ErrUsageStatusInvalid)

	account, err = ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), account.Balance)
}

func TestRefundOutsideWindow(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "latewindow@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyImageEdit, 5, "图片编辑")
	require.NoError(t, err)

	// 把用量创建时间回拨到窗口之外
	backdated := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(&model.ServiceUsage{}).
		Where("usage_no = ?", usage.UsageNo).
		Update("created_at", backdated).Error)

	_, err = consume.Refund(ctx, usage.UsageNo, "太晚了")
	assert.ErrorIs(t, err, ErrRefundWindowClosed)

	// 超窗退款不产生任何变更
	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Balance)

	after, err := repository.NewUsageRepository(db).GetByUsageNo(ctx, usage.UsageNo)
	require.NoError(t, err)
	assert.Equal(t, model.UsageStatusSuccess, after.Status)
}

func TestRefundFailedUsageRejected(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "failedusage@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyVideoGenerate, 100, "视频生成")
	require.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	_, err = consume.Refund(ctx, usage.UsageNo, "失败的也想退")
	assert.ErrorIs(t, err, repository.ErrUsageStatusInvalid)
}

func TestRefundNotFound(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	consume := NewConsumeService(db, cfg, NewLedgerService(db))

	_, err := consume.Refund(context.Background(), "USG_NOT_EXIST", "查无此单")
	assert.ErrorIs(t, err, repository.ErrUsageNotFound)
}

func TestRefundWritesOutboxEvent(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "refundevent@test.com")
	ledger := NewLedgerService(db)
	consume := NewConsumeService(db, cfg, ledger)
	outboxRepo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	usage, err := consume.Consume(ctx, user.ID, model.ServiceKeyImageEdit, 5, "图片编辑")
	require.NoError(t, err)

	_, err = consume.Refund(ctx, usage.UsageNo, "生成失败")
	require.NoError(t, err)

	messages, err := outboxRepo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, cfg.Kafka.Topic.CreditEvent, messages[0].Topic)
	assert.Contains(t, messages[0].Payload, "USAGE_REFUNDED")
}
