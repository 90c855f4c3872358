package repository

import (
	"errors"

	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// WebhookEventRepository Webhook 事件缓冲数据访问接口
type WebhookEventRepository interface {
	Create(event *models.WebhookEvent) error
	GetByID(id uint) (*models.WebhookEvent, error)
	GetByEventNo(eventNo string) (*models.WebhookEvent, error)
	Update(id uint, updates map[string]interface{}) error
	List(filter WebhookEventListFilter) ([]models.WebhookEvent, int64, error)
	WithTx(tx *gorm.DB) *GormWebhookEventRepository
}

// GormWebhookEventRepository GORM 实现
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository 创建 Webhook 事件仓库
func NewWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormWebhookEventRepository) WithTx(tx *gorm.DB) *GormWebhookEventRepository {
	if tx == nil {
		return r
	}
	return &GormWebhookEventRepository{db: tx}
}

// Create 创建事件记录
func (r *GormWebhookEventRepository) Create(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

// GetByID 根据 ID 获取事件
func (r *GormWebhookEventRepository) GetByID(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// GetByEventNo 根据事件编号获取事件
func (r *GormWebhookEventRepository) GetByEventNo(eventNo string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.Where("event_no = ?", eventNo).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// Update 更新事件记录
func (r *GormWebhookEventRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// List 分页查询事件
func (r *GormWebhookEventRepository) List(filter WebhookEventListFilter) ([]models.WebhookEvent, int64, error) {
	query := r.db.Model(&models.WebhookEvent{})
	if filter.Supplier != "" {
		query = query.Where("supplier = ?", filter.Supplier)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.WebhookEvent
	query = applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize)
	if err := query.Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
