package repository

import (
	"context"
	"errors"
	"time"

	"github.com/geektown/Nano-Bananary/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound      = errors.New("支付单不存在")
	ErrPaymentStatusInvalid = errors.New("支付单状态不合法")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus 条件流转支付单状态
// WHERE status = fromStatus 保证同一张单子只有一次流转能命中，
// 回调重放时第二次命中 0 行即判定为状态不合法
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, paymentNo string, fromStatus, toStatus string, transactionID string) error {
	if !model.CanPaymentTransitionTo(fromStatus, toStatus) {
		return ErrPaymentStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if transactionID != "" {
		updates["transaction_id"] = transactionID
	}
	if toStatus == model.PaymentStatusCompleted {
		now := time.Now()
		updates["paid_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("payment_no = ? AND status = ?", paymentNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}

	return nil
}

func (r *PaymentRepository) GetExpiredPending(ctx context.Context, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", model.PaymentStatusPending, time.Now()).
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
