package repository

import (
	"context"
	"errors"

	"github.com/geektown/Nano-Bananary/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("积分余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.UserAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.UserAccount, error) {
	var account model.UserAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByUserIDTx(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.UserAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateBalance 按版本号条件更新余额
// 两个并发写读到同一版本时只有一个能命中 WHERE 条件，
// 另一个拿到 ErrOptimisticLock 由上层重试，杜绝丢失更新
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, userID int64, newBalance int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.UserAccount{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 区分账户不存在与版本冲突，读同一事务内的快照
		if _, err := r.GetByUserIDTx(ctx, tx, userID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}
