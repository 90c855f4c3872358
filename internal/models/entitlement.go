package models

import (
	"time"

	"gorm.io/gorm"
)

// Entitlement 订阅权益表。(user_email, plan_code) 唯一，
// 同一订单的重复激活不会重复延长有效期。
type Entitlement struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                          // 主键
	UserEmail   string         `gorm:"uniqueIndex:idx_entitlement_user_plan;not null" json:"user_email"` // 用户邮箱
	PlanCode    string         `gorm:"uniqueIndex:idx_entitlement_user_plan;not null" json:"plan_code"`  // 订阅计划
	LastOrderNo string         `gorm:"index" json:"last_order_no"`                                    // 最近一次延长的订单号
	StartsAt    time.Time      `gorm:"index;not null" json:"starts_at"`                               // 生效时间
	ExpiresAt   time.Time      `gorm:"index;not null" json:"expires_at"`                              // 到期时间
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`                                       // 创建时间
	UpdatedAt   time.Time      `gorm:"index" json:"updated_at"`                                       // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                                // 软删除时间
}

// TableName 指定表名
func (Entitlement) TableName() string {
	return "entitlements"
}
