package models

import (
	"time"
)

// NotificationLog 通知发送记录表。(order_id, email_type, dedupe_key) 唯一，
// 与状态迁移同事务写入，是"每个可见迁移恰好一封邮件"的权威集合。
type NotificationLog struct {
	ID        uint       `gorm:"primarykey" json:"id"`                                                // 主键
	OrderID   uint       `gorm:"uniqueIndex:idx_notification_dedupe;not null" json:"order_id"`        // 履约单ID
	EmailType string     `gorm:"uniqueIndex:idx_notification_dedupe;not null" json:"email_type"`      // 邮件类型
	DedupeKey string     `gorm:"uniqueIndex:idx_notification_dedupe;not null" json:"dedupe_key"`      // 迁移去重键（如履约项ID）
	Recipient string     `gorm:"not null" json:"recipient"`                                           // 收件邮箱
	Subject   string     `gorm:"type:varchar(500)" json:"subject"`                                    // 邮件主题
	Body      string     `gorm:"type:text" json:"body"`                                               // 邮件正文
	SentAt    *time.Time `gorm:"index" json:"sent_at,omitempty"`                                      // 实际发送时间（发送失败时为空）
	CreatedAt time.Time  `gorm:"index" json:"created_at"`                                             // 创建时间
	UpdatedAt time.Time  `gorm:"index" json:"updated_at"`                                             // 更新时间
}

// TableName 指定表名
func (NotificationLog) TableName() string {
	return "notification_logs"
}
