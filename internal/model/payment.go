package model

import (
	"time"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
	PaymentStatusClosed    = "CLOSED" // 超时未支付，由后台任务关闭
)

// ValidPaymentTransitions 支付单状态机
// PENDING 只能流向终态一次，COMPLETED 之后仅允许退款
var ValidPaymentTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusClosed},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

func CanPaymentTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPaymentTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentMethodWechat = "wechat"
	PaymentMethodAlipay = "alipay"
)

// ExchangeRate 汇率：1 货币单位 = 10 积分
const ExchangeRate = 10

// Payment 支付单表
// 外部资金转换为积分的唯一入口：支付确认后通过账本 Deposit 入账
type Payment struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	UserID        int64      `gorm:"index;not null" json:"user_id"`
	Amount        int64      `gorm:"not null" json:"amount"`  // 支付金额（货币单位）
	Credits       int64      `gorm:"not null" json:"credits"` // 折算积分 = Amount * ExchangeRate
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Method        string     `gorm:"type:varchar(20);not null" json:"method"`
	TransactionID string     `gorm:"type:varchar(128)" json:"transaction_id"` // 支付渠道流水号
	ExpiredAt     time.Time  `gorm:"not null" json:"expired_at"`
	PaidAt        *time.Time `json:"paid_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}
