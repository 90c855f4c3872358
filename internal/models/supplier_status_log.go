package models

import "time"

// SupplierStatusLog 供应商状态流水表。只追加不更新，
// 重复回调的状态同样入表但不触发状态迁移。
type SupplierStatusLog struct {
	ID               uint      `gorm:"primarykey" json:"id"`                           // 主键
	SupplierOrderID  uint      `gorm:"index;not null" json:"supplier_order_id"`        // 供应商订单ID
	RawStatus        string    `gorm:"type:varchar(100);not null" json:"raw_status"`   // 供应商原始状态
	NormalizedStatus string    `gorm:"type:varchar(50)" json:"normalized_status"`      // 归一化后的内部状态
	ObservedAt       time.Time `gorm:"index;not null" json:"observed_at"`              // 观测时间
}

// TableName 指定表名
func (SupplierStatusLog) TableName() string {
	return "supplier_status_logs"
}
