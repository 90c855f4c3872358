package repository

import (
	"errors"

	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// EntitlementRepository 订阅权益数据访问接口
type EntitlementRepository interface {
	Create(entitlement *models.Entitlement) error
	GetByUserPlan(userEmail, planCode string) (*models.Entitlement, error)
	Update(id uint, updates map[string]interface{}) error
	WithTx(tx *gorm.DB) *GormEntitlementRepository
}

// GormEntitlementRepository GORM 实现
type GormEntitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository 创建订阅权益仓库
func NewEntitlementRepository(db *gorm.DB) *GormEntitlementRepository {
	return &GormEntitlementRepository{db: db}
}

// WithTx 绑定事务
func (r *GormEntitlementRepository) WithTx(tx *gorm.DB) *GormEntitlementRepository {
	if tx == nil {
		return r
	}
	return &GormEntitlementRepository{db: tx}
}

// Create 创建权益记录
func (r *GormEntitlementRepository) Create(entitlement *models.Entitlement) error {
	return r.db.Create(entitlement).Error
}

// GetByUserPlan 根据用户与订阅计划获取权益
func (r *GormEntitlementRepository) GetByUserPlan(userEmail, planCode string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	if err := r.db.Where("user_email = ? AND plan_code = ?", userEmail, planCode).First(&entitlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entitlement, nil
}

// Update 更新权益记录
func (r *GormEntitlementRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Entitlement{}).Where("id = ?", id).Updates(updates).Error
}
