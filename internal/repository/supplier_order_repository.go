package repository

import (
	"errors"
	"time"

	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// SupplierOrderRepository 供应商订单数据访问接口
type SupplierOrderRepository interface {
	Create(order *models.SupplierOrder) error
	GetByItemID(itemID uint) (*models.SupplierOrder, error)
	GetByExternalOrderID(supplier, externalOrderID string) (*models.SupplierOrder, error)
	Update(id uint, updates map[string]interface{}) error
	AppendStatusLog(log *models.SupplierStatusLog) error
	ListManualPending(before time.Time) ([]models.SupplierOrder, error)
	WithTx(tx *gorm.DB) *GormSupplierOrderRepository
}

// GormSupplierOrderRepository GORM 实现
type GormSupplierOrderRepository struct {
	db *gorm.DB
}

// NewSupplierOrderRepository 创建供应商订单仓库
func NewSupplierOrderRepository(db *gorm.DB) *GormSupplierOrderRepository {
	return &GormSupplierOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSupplierOrderRepository) WithTx(tx *gorm.DB) *GormSupplierOrderRepository {
	if tx == nil {
		return r
	}
	return &GormSupplierOrderRepository{db: tx}
}

// Create 创建供应商订单
func (r *GormSupplierOrderRepository) Create(order *models.SupplierOrder) error {
	return r.db.Create(order).Error
}

// GetByItemID 根据履约项 ID 获取供应商订单
func (r *GormSupplierOrderRepository) GetByItemID(itemID uint) (*models.SupplierOrder, error) {
	var order models.SupplierOrder
	if err := r.db.Where("item_id = ?", itemID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByExternalOrderID 根据供应商侧订单号获取供应商订单
func (r *GormSupplierOrderRepository) GetByExternalOrderID(supplier, externalOrderID string) (*models.SupplierOrder, error) {
	if externalOrderID == "" {
		return nil, nil
	}
	var order models.SupplierOrder
	query := r.db.Where("external_order_id = ?", externalOrderID)
	if supplier != "" {
		query = query.Where("supplier_name = ?", supplier)
	}
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// Update 更新供应商订单字段
func (r *GormSupplierOrderRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.SupplierOrder{}).Where("id = ?", id).Updates(updates).Error
}

// AppendStatusLog 追加一条状态回执流水（只增不改）
func (r *GormSupplierOrderRepository) AppendStatusLog(log *models.SupplierStatusLog) error {
	return r.db.Create(log).Error
}

// ListManualPending 查询早于指定时间提交、仍在等待人工确认的供应商订单
func (r *GormSupplierOrderRepository) ListManualPending(before time.Time) ([]models.SupplierOrder, error) {
	var orders []models.SupplierOrder
	err := r.db.
		Where("manual_confirmation_needed = ?", true).
		Where("status = ?", constants.SupplierOrderStatusAccepted).
		Where("submitted_at IS NOT NULL AND submitted_at < ?", before).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
