package repository

import (
	"errors"

	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// DigitalDeliveryRepository 数字交付数据访问接口
type DigitalDeliveryRepository interface {
	Create(delivery *models.DigitalDelivery) error
	GetByItemID(itemID uint) (*models.DigitalDelivery, error)
	Update(id uint, updates map[string]interface{}) error
	WithTx(tx *gorm.DB) *GormDigitalDeliveryRepository
}

// GormDigitalDeliveryRepository GORM 实现
type GormDigitalDeliveryRepository struct {
	db *gorm.DB
}

// NewDigitalDeliveryRepository 创建数字交付仓库
func NewDigitalDeliveryRepository(db *gorm.DB) *GormDigitalDeliveryRepository {
	return &GormDigitalDeliveryRepository{db: db}
}

// WithTx 绑定事务
func (r *GormDigitalDeliveryRepository) WithTx(tx *gorm.DB) *GormDigitalDeliveryRepository {
	if tx == nil {
		return r
	}
	return &GormDigitalDeliveryRepository{db: tx}
}

// Create 创建数字交付记录
func (r *GormDigitalDeliveryRepository) Create(delivery *models.DigitalDelivery) error {
	return r.db.Create(delivery).Error
}

// GetByItemID 根据履约项 ID 获取数字交付记录
func (r *GormDigitalDeliveryRepository) GetByItemID(itemID uint) (*models.DigitalDelivery, error) {
	var delivery models.DigitalDelivery
	if err := r.db.Where("item_id = ?", itemID).First(&delivery).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delivery, nil
}

// Update 更新数字交付记录
func (r *GormDigitalDeliveryRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.DigitalDelivery{}).Where("id = ?", id).Updates(updates).Error
}
