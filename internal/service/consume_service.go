package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"
	"github.com/geektown/Nano-Bananary/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrUnknownService     = errors.New("未知的服务标识")
	ErrRefundWindowClosed = errors.New("已超出退款窗口")
)

// ServicePrices 付费服务价目表（积分）
var ServicePrices = map[string]int64{
	model.ServiceKeyImageEdit:     5,
	model.ServiceKeyVideoGenerate: 10,
}

// PriceFor 查询服务价格
func PriceFor(serviceKey string) (int64, error) {
	price, ok := ServicePrices[serviceKey]
	if !ok {
		return 0, ErrUnknownService
	}
	return price, nil
}

// ConsumeService 服务消费工作流
//
// 统一采用先扣费后执行：扣减与余额校验合并在同一账本事务里完成，
// 杜绝「查余额 → 调外部服务 → 再扣费」在并发下的超扣；
// 外部生成调用失败时由调用方在退款窗口内调 Refund 补偿
type ConsumeService struct {
	db         *gorm.DB
	cfg        *config.Config
	usageRepo  *repository.UsageRepository
	outboxRepo *repository.OutboxRepository
	ledger     *LedgerService
}

func NewConsumeService(db *gorm.DB, cfg *config.Config, ledger *LedgerService) *ConsumeService {
	return &ConsumeService{
		db:         db,
		cfg:        cfg,
		usageRepo:  repository.NewUsageRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		ledger:     ledger,
	}
}

// refundWindow 用量退款窗口
func (s *ConsumeService) refundWindow() time.Duration {
	hours := s.cfg.Business.RefundWindowHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Consume 消费积分并记录用量
// 成功：扣减 + SUCCESS 用量记录同一事务落库
// 余额不足：不产生任何扣减，单独记录一条 FAILED 用量并返回余额不足
func (s *ConsumeService) Consume(ctx context.Context, userID int64, serviceKey string, credits int64, details string) (*model.ServiceUsage, error) {
	if credits <= 0 {
		return nil, errors.New("消费积分必须大于0")
	}

	usageNo := idgen.GenerateUsageNo()

	var usage *model.ServiceUsage

	for i := 0; i < applyDeltaMaxRetries; i++ {
		usage = &model.ServiceUsage{
			UsageNo:     usageNo,
			UserID:      userID,
			ServiceKey:  serviceKey,
			CreditsUsed: credits,
			Status:      model.UsageStatusSuccess,
			Details:     details,
		}

		err := s.db.Transaction(func(tx *gorm.DB) error {
			_, err := s.ledger.ApplyDeltaTx(ctx, tx, &DeltaRequest{
				UserID:       userID,
				Amount:       -credits,
				Type:         model.TransactionTypeWithdrawal,
				Description:  fmt.Sprintf("服务消费-%s", serviceKey),
				RelatedOrder: usageNo,
			})
			if err != nil {
				return err
			}

			return s.usageRepo.Create(ctx, tx, usage)
		})

		if err == nil {
			log.Printf("服务消费成功: usageNo=%s, userID=%d, serviceKey=%s, credits=%d",
				usageNo, userID, serviceKey, credits)
			return usage, nil
		}
		if errors.Is(err, repository.ErrOptimisticLock) {
			continue // 版本冲突，整个事务重试
		}
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return s.recordFailedUsage(ctx, userID, serviceKey, credits, "积分余额不足", repository.ErrBalanceNotEnough)
		}
		return nil, err
	}

	return s.recordFailedUsage(ctx, userID, serviceKey, credits, "系统繁忙，请重试", repository.ErrOptimisticLock)
}

// recordFailedUsage 记录失败用量（扣减已中止，单独落库），返回失败原因对应的错误
func (s *ConsumeService) recordFailedUsage(ctx context.Context, userID int64, serviceKey string, credits int64, reason string, cause error) (*model.ServiceUsage, error) {
	usage := &model.ServiceUsage{
		UsageNo:     idgen.GenerateUsageNo(),
		UserID:      userID,
		ServiceKey:  serviceKey,
		CreditsUsed: credits,
		Status:      model.UsageStatusFailed,
		Details:     reason,
	}
	if err := s.usageRepo.Create(ctx, nil, usage); err != nil {
		return nil, err
	}

	log.Printf("服务消费失败: usageNo=%s, userID=%d, serviceKey=%s, reason=%s",
		usage.UsageNo, userID, serviceKey, reason)

	return usage, cause
}

// Refund 退款
// 仅 SUCCESS 状态且在退款窗口内的用量可退；
// 状态条件更新保证同一笔用量只会退一次
func (s *ConsumeService) Refund(ctx context.Context, usageNo, reason string) (*model.ServiceUsage, error) {
	usage, err := s.usageRepo.GetByUsageNo(ctx, usageNo)
	if err != nil {
		return nil, err
	}

	if usage.Status != model.UsageStatusSuccess {
		return nil, repository.ErrUsageStatusInvalid
	}
	if time.Since(usage.CreatedAt) > s.refundWindow() {
		return nil, ErrRefundWindowClosed
	}

	refundNo := idgen.GenerateRefundNo()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.usageRepo.UpdateStatus(ctx, tx, usageNo, model.UsageStatusSuccess, model.UsageStatusRefunded); err != nil {
			return err
		}

		_, err := s.ledger.ApplyDeltaTx(ctx, tx, &DeltaRequest{
			UserID:       usage.UserID,
			Amount:       usage.CreditsUsed,
			Type:         model.TransactionTypeDeposit,
			Description:  fmt.Sprintf("用量退款-%s-%s", refundNo, reason),
			RelatedOrder: usageNo,
		})
		if err != nil {
			return fmt.Errorf("退款入账失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":       "USAGE_REFUNDED",
			"refund_no":   refundNo,
			"usage_no":    usageNo,
			"user_id":     usage.UserID,
			"credits":     usage.CreditsUsed,
			"reason":      reason,
			"refunded_at": time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: refundNo,
			Topic:      s.cfg.Kafka.Topic.CreditEvent,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("用量退款成功: refundNo=%s, usageNo=%s, credits=%d", refundNo, usageNo, usage.CreditsUsed)

	return s.usageRepo.GetByUsageNo(ctx, usageNo)
}

// ListUsages 分页查询用户用量记录
func (s *ConsumeService) ListUsages(ctx context.Context, userID int64, page, pageSize int) ([]*model.ServiceUsage, int64, error) {
	return s.usageRepo.ListByUserID(ctx, userID, page, pageSize)
}
