package models

import (
	"time"

	"gorm.io/gorm"
)

// FulfillmentItem 履约项表（每个购买行一条，状态机独立推进）
type FulfillmentItem struct {
	ID              uint            `gorm:"primarykey" json:"id"`                                    // 主键
	OrderID         uint            `gorm:"index;not null" json:"order_id"`                          // 履约单ID
	Kind            string          `gorm:"index;not null" json:"kind"`                              // 履约类型（分类时固化）
	Status          string          `gorm:"index;not null" json:"status"`                            // 履约项状态
	ProductRef      string          `gorm:"index;not null" json:"product_ref"`                       // 商品引用
	TitleJSON       JSON            `gorm:"type:json" json:"title"`                                  // 商品标题快照
	Quantity        int             `gorm:"not null;default:1" json:"quantity"`                      // 数量
	UnitPrice       Money           `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"` // 单价
	ShippingAddress ShippingAddress `gorm:"type:json" json:"shipping_address,omitempty"`             // 收货地址快照
	ShippingMethod  string          `gorm:"type:varchar(50)" json:"shipping_method,omitempty"`       // 站内配送偏好（standard/express/economy）
	Attempts        int             `gorm:"not null;default:0" json:"attempts"`                      // 提交尝试次数
	LastError       string          `gorm:"type:varchar(500)" json:"last_error,omitempty"`           // 最近失败原因（成功后清空）
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`                                 // 创建时间
	UpdatedAt       time.Time       `gorm:"index" json:"updated_at"`                                 // 更新时间
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`                                          // 软删除时间

	SupplierOrder   *SupplierOrder   `gorm:"foreignKey:ItemID" json:"supplier_order,omitempty"`   // 供应商订单（首次提交后存在）
	DigitalDelivery *DigitalDelivery `gorm:"foreignKey:ItemID" json:"digital_delivery,omitempty"` // 数字交付记录
}

// TableName 指定表名
func (FulfillmentItem) TableName() string {
	return "fulfillment_items"
}
