package job

import (
	"context"
	"log"
	"time"

	"github.com/geektown/Nano-Bananary/internal/service"
)

// PaymentTimeoutJob 支付单超时任务
// 定期关闭超过有效期仍未确认的待支付单，避免永久挂起的 PENDING 单
type PaymentTimeoutJob struct {
	paymentService *service.PaymentService
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
}

func NewPaymentTimeoutJob(paymentService *service.PaymentService) *PaymentTimeoutJob {
	return &PaymentTimeoutJob{
		paymentService: paymentService,
		stopCh:         make(chan struct{}),
		interval:       30 * time.Second,
		batchSize:      100,
	}
}

func (j *PaymentTimeoutJob) Start(ctx context.Context) {
	log.Println("[PaymentTimeoutJob] 支付单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PaymentTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PaymentTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.closeExpiredPayments(ctx)
		}
	}
}

func (j *PaymentTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *PaymentTimeoutJob) closeExpiredPayments(ctx context.Context) {
	closedCount, err := j.paymentService.CloseExpiredPayments(ctx, j.batchSize)
	if err != nil {
		log.Printf("[PaymentTimeoutJob] 关闭超时支付单失败: %v", err)
		return
	}

	if closedCount > 0 {
		log.Printf("[PaymentTimeoutJob] 本次关闭 %d 个超时支付单", closedCount)
	}
}
