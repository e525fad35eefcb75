package model

import (
	"time"
)

// ============================================================================
// 积分流水类型常量
// ============================================================================

const (
	TransactionTypeDeposit    = "DEPOSIT"    // 充值入账
	TransactionTypeWithdrawal = "WITHDRAWAL" // 消费扣减
	TransactionTypeReward     = "REWARD"     // 奖励发放（注册赠送、活动等）
	TransactionTypeExpiry     = "EXPIRY"     // 积分过期（预留，暂不使用）
)

// ============================================================================
// 积分流水实体
// ============================================================================

// CreditTransaction 积分流水表
// 记录账户的每一笔积分变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录变动前后余额 —— 任意时刻满足 previous_balance + amount = current_balance
// 3. 关联业务单号（支付单号/用量单号）—— 便于对账
// 4. 账户余额可由流水累加重建
type CreditTransaction struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID          int64     `gorm:"index;not null" json:"user_id"`
	Type            string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount          int64     `gorm:"not null" json:"amount"` // 积分变动（正数入账，负数出账）
	PreviousBalance int64     `gorm:"not null" json:"previous_balance"`
	CurrentBalance  int64     `gorm:"not null" json:"current_balance"`
	RelatedOrder    string    `gorm:"type:varchar(64);index" json:"related_order"` // 关联支付单号或用量单号
	Description     string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
