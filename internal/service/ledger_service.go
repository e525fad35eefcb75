package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"
	"github.com/geektown/Nano-Bananary/pkg/idgen"

	"gorm.io/gorm"
)

// applyDeltaMaxRetries 乐观锁冲突时的重试上限
const applyDeltaMaxRetries = 3

var (
	ErrInvalidDeltaType = errors.New("不支持的流水类型")
)

// LedgerService 积分账本
// 账户余额的唯一修改入口：每次变动在同一事务内更新余额并追加一条流水，
// 任意时刻余额等于该用户全部流水的累加
type LedgerService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// DeltaRequest 一次积分变动
type DeltaRequest struct {
	UserID       int64
	Amount       int64  // 正数入账，负数出账
	Type         string // model.TransactionType*
	Description  string
	RelatedOrder string // 关联支付单号或用量单号，可为空
}

// GetAccount 查询用户账户
func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.UserAccount, error) {
	return s.accountRepo.GetByUserID(ctx, userID)
}

// CreateAccountTx 在事务内创建账户（注册时与用户记录同事务创建）
func (s *LedgerService) CreateAccountTx(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserAccount, error) {
	account := &model.UserAccount{
		UserID:  userID,
		Balance: 0,
	}
	if err := s.accountRepo.Create(ctx, tx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// CheckBalance 非变更的余额校验
// 该检查与后续扣减之间天然存在竞态，调用方必须容忍随后的余额不足失败，
// 真正的守门在 ApplyDelta 的事务里
func (s *LedgerService) CheckBalance(ctx context.Context, userID int64, required int64) (bool, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return account.Balance >= required, nil
}

// ApplyDelta 应用一次积分变动（独立事务，乐观锁冲突自动重试）
func (s *LedgerService) ApplyDelta(ctx context.Context, req *DeltaRequest) (*model.CreditTransaction, error) {
	var trans *model.CreditTransaction

	for i := 0; i < applyDeltaMaxRetries; i++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			trans, txErr = s.ApplyDeltaTx(ctx, tx, req)
			return txErr
		})

		if err == nil {
			return trans, nil
		}
		if errors.Is(err, repository.ErrOptimisticLock) {
			continue // 读到了过期版本，整个事务重来
		}
		return nil, err
	}

	return nil, repository.ErrOptimisticLock
}

// ApplyDeltaTx 在调用方事务内应用一次积分变动
// 供支付确认、服务消费等复合事务组合使用；冲突直接上抛，由外层决定是否整体重试
//
// 【关键点】余额守门：
// withdrawal 计算出负余额时直接中止，不产生任何写入；
// 版本号条件更新保证两个并发扣减不可能都基于同一份旧余额通过校验
func (s *LedgerService) ApplyDeltaTx(ctx context.Context, tx *gorm.DB, req *DeltaRequest) (*model.CreditTransaction, error) {
	switch req.Type {
	case model.TransactionTypeDeposit, model.TransactionTypeWithdrawal,
		model.TransactionTypeReward, model.TransactionTypeExpiry:
	default:
		return nil, ErrInvalidDeltaType
	}

	account, err := s.accountRepo.GetByUserIDTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	currentBalance := account.Balance + req.Amount
	if req.Type == model.TransactionTypeWithdrawal && currentBalance < 0 {
		return nil, repository.ErrBalanceNotEnough
	}

	if err := s.accountRepo.UpdateBalance(ctx, tx, req.UserID, currentBalance, account.Version); err != nil {
		return nil, err
	}

	trans := &model.CreditTransaction{
		TransactionNo:   idgen.GenerateTransactionNo(),
		UserID:          req.UserID,
		Type:            req.Type,
		Amount:          req.Amount,
		PreviousBalance: account.Balance,
		CurrentBalance:  currentBalance,
		RelatedOrder:    req.RelatedOrder,
		Description:     req.Description,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return trans, nil
}

// Deposit 入账（充值到账）
func (s *LedgerService) Deposit(ctx context.Context, userID, amount int64, description, relatedOrder string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, errors.New("入账金额必须大于0")
	}
	return s.ApplyDelta(ctx, &DeltaRequest{
		UserID:       userID,
		Amount:       amount,
		Type:         model.TransactionTypeDeposit,
		Description:  description,
		RelatedOrder: relatedOrder,
	})
}

// Withdraw 出账（服务消费扣减）
func (s *LedgerService) Withdraw(ctx context.Context, userID, amount int64, description, relatedOrder string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, errors.New("出账金额必须大于0")
	}
	return s.ApplyDelta(ctx, &DeltaRequest{
		UserID:       userID,
		Amount:       -amount,
		Type:         model.TransactionTypeWithdrawal,
		Description:  description,
		RelatedOrder: relatedOrder,
	})
}

// Reward 奖励发放（注册赠送等）
func (s *LedgerService) Reward(ctx context.Context, userID, amount int64, description string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, errors.New("奖励金额必须大于0")
	}
	return s.ApplyDelta(ctx, &DeltaRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        model.TransactionTypeReward,
		Description: description,
	})
}

// ListTransactions 分页查询用户积分流水
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}
