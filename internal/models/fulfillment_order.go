package models

import (
	"time"

	"gorm.io/gorm"
)

// FulfillmentOrder 履约单表（聚合根，每笔已支付订单一条）
type FulfillmentOrder struct {
	ID              uint           `gorm:"primarykey" json:"id"`                        // 主键
	OrderNo         string         `gorm:"uniqueIndex;not null" json:"order_no"`        // 订单编号（幂等键）
	PaymentID       string         `gorm:"index;not null" json:"payment_id"`            // 上游支付记录ID
	UserEmail       string         `gorm:"index;not null" json:"user_email"`            // 通知收件邮箱
	Locale          string         `gorm:"type:varchar(20)" json:"locale,omitempty"`    // 用户语言
	AggregateStatus string         `gorm:"index;not null" json:"aggregate_status"`      // 聚合状态（仅由推导写入）
	Version         int64          `gorm:"not null;default:0" json:"-"`                 // 乐观锁版本
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`                     // 创建时间
	UpdatedAt       time.Time      `gorm:"index" json:"updated_at"`                     // 更新时间
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`                              // 软删除时间

	Items         []FulfillmentItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`         // 履约项（创建后只读）
	Notifications []NotificationLog `gorm:"foreignKey:OrderID" json:"notifications,omitempty"` // 已发通知记录
}

// TableName 指定表名
func (FulfillmentOrder) TableName() string {
	return "fulfillment_orders"
}
