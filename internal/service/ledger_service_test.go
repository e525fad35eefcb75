package service

import (
	"context"
	"sync"
	"testing"

	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositRecordsAuditRow(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "deposit@test.com")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	trans, err := ledger.Deposit(ctx, user.ID, 100, "充值到账-wechat", "PAY123")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTypeDeposit, trans.Type)
	assert.Equal(t, int64(100), trans.Amount)
	assert.Equal(t, int64(15), trans.PreviousBalance) // 注册奖励后的余额
	assert.Equal(t, int64(115), trans.CurrentBalance)
	assert.Equal(t, "PAY123", trans.RelatedOrder)

	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(115), account.Balance)
}

func TestWithdrawInsufficientBalanceLeavesNoTrace(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "poor@test.com")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	_, err := ledger.Withdraw(ctx, user.ID, 100, "服务消费", "USG1")
	require.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	// 余额与流水都不应有任何变化
	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), account.Balance)

	transactions, total, err := ledger.ListTransactions(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total) // 仅注册奖励一条
	assert.Equal(t, model.TransactionTypeReward, transactions[0].Type)
}

func TestBalanceEqualsTransactionSum(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "sum@test.com")
	ledger := NewLedgerService(db)
	transactionRepo := repository.NewTransactionRepository(db)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, user.ID, 50, "充值", "PAY1")
	require.NoError(t, err)
	_, err = ledger.Withdraw(ctx, user.ID, 20, "消费", "USG1")
	require.NoError(t, err)
	_, err = ledger.Reward(ctx, user.ID, 5, "活动奖励")
	require.NoError(t, err)
	_, err = ledger.Withdraw(ctx, user.ID, 100, "消费", "USG2")
	require.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Balance) // 15 + 50 - 20 + 5

	// 余额可由流水重建
	sum, err := transactionRepo.SumByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Balance, sum)

	// 每条流水满足 previous + amount = current
	transactions, _, err := ledger.ListTransactions(ctx, user.ID, 1, 100)
	require.NoError(t, err)
	for _, trans := range transactions {
		assert.Equal(t, trans.CurrentBalance, trans.PreviousBalance+trans.Amount,
			"流水 %s 前后余额不一致", trans.TransactionNo)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	cfg.Business.SignupRewardCredits = 10
	user := registerTestUser(t, db, cfg, "concurrent@test.com")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	const workers = 20
	const amount = 3

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Withdraw(ctx, user.ID, amount, "并发扣减", "")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	account, err := ledger.GetAccount(ctx, user.ID)
	require.NoError(t, err)

	// 终态余额 = 初始余额 - 成功扣减之和，且不可能为负
	assert.Equal(t, int64(10-successes*amount), account.Balance)
	assert.GreaterOrEqual(t, account.Balance, int64(0))
	assert.Equal(t, 3, successes) // 10 积分最多成功 3 笔 3 积分的扣减
}

func TestUpdateBalanceStaleVersionConflict(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "stale@test.com")
	accountRepo := repository.NewAccountRepository(db)
	ctx := context.Background()

	account, err := accountRepo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)

	// 第一次按当前版本更新成功
	require.NoError(t, accountRepo.UpdateBalance(ctx, nil, user.ID, 20, account.Version))

	// 拿旧版本再更新，应命中乐观锁冲突
	err = accountRepo.UpdateBalance(ctx, nil, user.ID, 30, account.Version)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
}

func TestApplyDeltaRejectsUnknownType(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "badtype@test.com")
	ledger := NewLedgerService(db)

	_, err := ledger.ApplyDelta(context.Background(), &DeltaRequest{
		UserID: user.ID,
		Amount: 10,
		Type:   "BONUS",
	})
	assert.ErrorIs(t, err, ErrInvalidDeltaType)
}

func TestCheckBalance(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	user := registerTestUser(t, db, cfg, "check@test.com")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	enough, err := ledger.CheckBalance(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.True(t, enough)

	enough, err = ledger.CheckBalance(ctx, user.ID, 16)
	require.NoError(t, err)
	assert.False(t, enough)

	// 账户不存在按不足处理
	enough, err = ledger.CheckBalance(ctx, 99999, 1)
	require.NoError(t, err)
	assert.False(t, enough)
}
