package model

import (
	"time"
)

// User 用户表
// 注册时同步创建 UserAccount，账户随用户级联删除
type User struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"type:varchar(64);not null" json:"name"`
	Email      string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Password   string    `gorm:"type:varchar(128);not null" json:"-"` // bcrypt 哈希，永不下发
	IsVerified bool      `gorm:"not null;default:false" json:"is_verified"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
