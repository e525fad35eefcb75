package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/infrastructure/lock"
	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"
	"github.com/geektown/Nano-Bananary/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidPaymentMethod = errors.New("不支持的支付方式")
)

// PaymentService 支付工作流
// 外部资金转换为积分的唯一通道：创建待支付单 → 渠道回调确认 → 账本入账
type PaymentService struct {
	db          *gorm.DB
	redisClient *redis.Client // 可为 nil，此时退化为仅靠数据库条件更新保证幂等
	cfg         *config.Config
	paymentRepo *repository.PaymentRepository
	outboxRepo  *repository.OutboxRepository
	ledger      *LedgerService
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, ledger *LedgerService) *PaymentService {
	return &PaymentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		paymentRepo: repository.NewPaymentRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		ledger:      ledger,
	}
}

// CreatePayment 创建待支付单
// credits = amount × 固定汇率；支付单超时未确认由后台任务关闭
func (s *PaymentService) CreatePayment(ctx context.Context, userID, amount int64, method string) (*model.Payment, error) {
	if amount <= 0 {
		return nil, errors.New("支付金额必须大于0")
	}
	if method != model.PaymentMethodWechat && method != model.PaymentMethodAlipay {
		return nil, ErrInvalidPaymentMethod
	}

	expiredAt := time.Now().Add(time.Duration(s.cfg.Business.PaymentTimeoutMinutes) * time.Minute)

	payment := &model.Payment{
		PaymentNo: idgen.GeneratePaymentNo(),
		UserID:    userID,
		Amount:    amount,
		Credits:   amount * model.ExchangeRate,
		Status:    model.PaymentStatusPending,
		Method:    method,
		ExpiredAt: expiredAt,
	}

	if err := s.paymentRepo.Create(ctx, nil, payment); err != nil {
		return nil, fmt.Errorf("创建支付单失败: %w", err)
	}

	return payment, nil
}

// CompletePayment 支付渠道回调确认
//
// 【关键点】
// 1. 幂等性：状态条件更新 PENDING → 终态只会命中一次，回调重放返回状态不合法
// 2. 原子性：状态流转、账本入账、事件落库同一事务，崩溃不会出现已确认未入账
// 3. 并发安全：按支付单维度加分布式锁降低回调并发冲突
func (s *PaymentService) CompletePayment(ctx context.Context, paymentNo, transactionID string, success bool) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}

	if payment.Status != model.PaymentStatusPending {
		return nil, repository.ErrPaymentStatusInvalid
	}

	if s.redisClient != nil {
		payLock := lock.NewPaymentLock(s.redisClient, paymentNo, uuid.NewString())
		if err := payLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer payLock.Unlock(ctx)
	}

	targetStatus := model.PaymentStatusCompleted
	if !success {
		targetStatus = model.PaymentStatusFailed
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.paymentRepo.UpdateStatus(ctx, tx, paymentNo, model.PaymentStatusPending, targetStatus, transactionID); err != nil {
			return err
		}

		if !success {
			return nil
		}

		trans, err := s.ledger.ApplyDeltaTx(ctx, tx, &DeltaRequest{
			UserID:       payment.UserID,
			Amount:       payment.Credits,
			Type:         model.TransactionTypeDeposit,
			Description:  fmt.Sprintf("充值到账-%s", payment.Method),
			RelatedOrder: paymentNo,
		})
		if err != nil {
			return fmt.Errorf("充值入账失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":          "PAYMENT_COMPLETED",
			"payment_no":     paymentNo,
			"user_id":        payment.UserID,
			"credits":        payment.Credits,
			"transaction_no": trans.TransactionNo,
			"paid_at":        time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: paymentNo,
			Topic:      s.cfg.Kafka.Topic.CreditEvent,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("支付确认完成: paymentNo=%s, userID=%d, status=%s", paymentNo, payment.UserID, targetStatus)

	return s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
}

// GetPayment 查询支付单
func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*model.Payment, error) {
	return s.paymentRepo.GetByPaymentNo(ctx, paymentNo)
}

// ListPayments 分页查询用户支付单
func (s *PaymentService) ListPayments(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
}

// CloseExpiredPayments 关闭超时未确认的待支付单，返回关闭数量
func (s *PaymentService) CloseExpiredPayments(ctx context.Context, limit int) (int, error) {
	payments, err := s.paymentRepo.GetExpiredPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	closedCount := 0
	for _, payment := range payments {
		err := s.paymentRepo.UpdateStatus(ctx, nil, payment.PaymentNo, model.PaymentStatusPending, model.PaymentStatusClosed, "")
		if err == nil {
			closedCount++
		}
	}

	return closedCount, nil
}
