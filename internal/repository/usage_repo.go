package repository

import (
	"context"
	"errors"

	"github.com/geektown/Nano-Bananary/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUsageNotFound      = errors.New("用量记录不存在")
	ErrUsageStatusInvalid = errors.New("用量记录状态不合法")
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Create(ctx context.Context, tx *gorm.DB, usage *model.ServiceUsage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(usage).Error
}

func (r *UsageRepository) GetByUsageNo(ctx context.Context, usageNo string) (*model.ServiceUsage, error) {
	var usage model.ServiceUsage
	err := r.db.WithContext(ctx).Where("usage_no = ?", usageNo).First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUsageNotFound
		}
		return nil, err
	}
	return &usage, nil
}

// UpdateStatus 条件流转用量记录状态，重复退款命中 0 行直接判为状态不合法
func (r *UsageRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, usageNo string, fromStatus, toStatus string) error {
	if !model.CanUsageTransitionTo(fromStatus, toStatus) {
		return ErrUsageStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ServiceUsage{}).
		Where("usage_no = ? AND status = ?", usageNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrUsageStatusInvalid
	}

	return nil
}

func (r *UsageRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.ServiceUsage, int64, error) {
	var usages []*model.ServiceUsage
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ServiceUsage{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&usages).Error

	return usages, total, err
}
