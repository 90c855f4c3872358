package models

import (
	"time"

	"gorm.io/gorm"
)

// DigitalDelivery 数字交付表（课程访问/订阅/下载）
type DigitalDelivery struct {
	ID           uint           `gorm:"primarykey" json:"id"`                          // 主键
	ItemID       uint           `gorm:"uniqueIndex;not null" json:"item_id"`           // 履约项ID
	DeliveryType string         `gorm:"index;not null" json:"delivery_type"`           // 交付类型
	AccessURL    string         `gorm:"type:varchar(1000)" json:"access_url,omitempty"` // 签名访问链接
	FolderRef    string         `gorm:"type:varchar(500)" json:"folder_ref,omitempty"` // 课程资料共享目录引用
	GrantedAt    *time.Time     `gorm:"index" json:"granted_at,omitempty"`             // 授予时间
	RevokedAt    *time.Time     `gorm:"index" json:"revoked_at,omitempty"`             // 撤销时间（退款/拒付）
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`                       // 创建时间
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`                       // 更新时间
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`                                // 软删除时间
}

// TableName 指定表名
func (DigitalDelivery) TableName() string {
	return "digital_deliveries"
}
