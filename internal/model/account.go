package model

import (
	"time"
)

// UserAccount 用户积分账户表
// 记录用户的积分余额，是整个计费系统的核心数据
// 余额只能通过账本操作变动，每次变动必须同事务追加一条 CreditTransaction
type UserAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // 可用积分余额
	Version   int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (UserAccount) TableName() string {
	return "user_accounts"
}
