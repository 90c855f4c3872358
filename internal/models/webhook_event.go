package models

import (
	"time"
)

// WebhookEvent Webhook 事件缓冲表。externalOrderId 尚未落库时
// （提交应答与回调竞态）先入表，小次数退避重试后丢弃。
type WebhookEvent struct {
	ID              uint      `gorm:"primarykey" json:"id"`                          // 主键
	EventNo         string    `gorm:"uniqueIndex;not null" json:"event_no"`          // 事件编号
	Supplier        string    `gorm:"index;not null" json:"supplier"`                // 归一化出该事件的供应商
	ExternalOrderID string    `gorm:"index" json:"external_order_id"`                // 供应商侧订单号
	RawPayload      string    `gorm:"type:text" json:"raw_payload"`                  // 原始报文
	Status          string    `gorm:"index;not null" json:"status"`                  // received/matched/discarded
	Attempts        int       `gorm:"not null;default:0" json:"attempts"`            // 重配尝试次数
	CreatedAt       time.Time `gorm:"index" json:"created_at"`                       // 创建时间
	UpdatedAt       time.Time `gorm:"index" json:"updated_at"`                       // 更新时间
}

// TableName 指定表名
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
