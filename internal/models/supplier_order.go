package models

import (
	"time"

	"gorm.io/gorm"
)

// SupplierOrder 供应商订单表（首次向外部供应商提交时创建）
type SupplierOrder struct {
	ID                       uint           `gorm:"primarykey" json:"id"`                                    // 主键
	ItemID                   uint           `gorm:"uniqueIndex;not null" json:"item_id"`                     // 履约项ID
	SupplierName             string         `gorm:"index;not null" json:"supplier_name"`                     // 供应商名称
	ExternalOrderID          string         `gorm:"index" json:"external_order_id,omitempty"`                // 供应商侧订单号（接受前为空）
	Status                   string         `gorm:"index;not null" json:"status"`                            // 供应商订单状态
	ShippingCarrier          string         `gorm:"type:varchar(100)" json:"shipping_carrier,omitempty"`     // 承运商
	TrackingNumber           string         `gorm:"type:varchar(100)" json:"tracking_number,omitempty"`      // 运单号
	TrackingURL              string         `gorm:"type:varchar(500)" json:"tracking_url,omitempty"`         // 运单查询链接
	ManualConfirmationNeeded bool           `gorm:"not null;default:false" json:"manual_confirmation_needed"` // 是否等待人工确认
	QuoteAmount              Money          `gorm:"type:decimal(20,2);not null;default:0" json:"quote_amount"` // 供应商报价
	QuoteCurrency            string         `gorm:"type:varchar(10)" json:"quote_currency,omitempty"`        // 报价币种
	ExchangeRate             string         `gorm:"type:varchar(32)" json:"exchange_rate,omitempty"`         // 提交时使用的汇率
	ChargedAmount            Money          `gorm:"type:decimal(20,2);not null;default:0" json:"charged_amount"` // 折算后的站点币种金额
	SubmittedAt              *time.Time     `gorm:"index" json:"submitted_at,omitempty"`                     // 提交时间
	ShippedAt                *time.Time     `gorm:"index" json:"shipped_at,omitempty"`                       // 发货时间
	DeliveredAt              *time.Time     `gorm:"index" json:"delivered_at,omitempty"`                     // 送达时间
	CreatedAt                time.Time      `gorm:"index" json:"created_at"`                                 // 创建时间
	UpdatedAt                time.Time      `gorm:"index" json:"updated_at"`                                 // 更新时间
	DeletedAt                gorm.DeletedAt `gorm:"index" json:"-"`                                          // 软删除时间

	StatusLogs []SupplierStatusLog `gorm:"foreignKey:SupplierOrderID" json:"status_logs,omitempty"` // 原始状态流水（只追加）
}

// TableName 指定表名
func (SupplierOrder) TableName() string {
	return "supplier_orders"
}
