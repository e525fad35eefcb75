package model

import (
	"time"
)

const (
	UsageStatusSuccess  = "SUCCESS"
	UsageStatusFailed   = "FAILED"
	UsageStatusRefunded = "REFUNDED"
)

// ValidUsageTransitions 用量记录状态机
// 创建时即写入 SUCCESS 或 FAILED；仅 SUCCESS 可在退款窗口内转为 REFUNDED
var ValidUsageTransitions = map[string][]string{
	UsageStatusSuccess: {UsageStatusRefunded},
}

func CanUsageTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidUsageTransitions[currentStatus]
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

// 付费服务标识
const (
	ServiceKeyImageEdit     = "ai-image-edit"
	ServiceKeyVideoGenerate = "ai-video-generate"
)

// ServiceUsage 服务用量表
// 每次付费动作（成功或失败）各记录一行，供退款与账单查询
type ServiceUsage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UsageNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"usage_no"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	ServiceKey  string    `gorm:"type:varchar(32);index;not null" json:"service_key"`
	CreditsUsed int64     `gorm:"not null" json:"credits_used"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Details     string    `gorm:"type:varchar(512)" json:"details"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (ServiceUsage) TableName() string {
	return "service_usages"
}
