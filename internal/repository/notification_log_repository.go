package repository

import (
	"errors"
	"time"

	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// NotificationLogRepository 通知记录数据访问接口
type NotificationLogRepository interface {
	Create(log *models.NotificationLog) error
	GetByID(id uint) (*models.NotificationLog, error)
	GetByDedupe(orderID uint, emailType, dedupeKey string) (*models.NotificationLog, error)
	MarkSent(id uint, sentAt time.Time) error
	ListByOrderID(orderID uint) ([]models.NotificationLog, error)
	WithTx(tx *gorm.DB) *GormNotificationLogRepository
}

// GormNotificationLogRepository GORM 实现
type GormNotificationLogRepository struct {
	db *gorm.DB
}

// NewNotificationLogRepository 创建通知记录仓库
func NewNotificationLogRepository(db *gorm.DB) *GormNotificationLogRepository {
	return &GormNotificationLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormNotificationLogRepository) WithTx(tx *gorm.DB) *GormNotificationLogRepository {
	if tx == nil {
		return r
	}
	return &GormNotificationLogRepository{db: tx}
}

// Create 创建通知记录，(order_id, email_type, dedupe_key) 冲突时返回唯一索引错误
func (r *GormNotificationLogRepository) Create(log *models.NotificationLog) error {
	return r.db.Create(log).Error
}

// GetByID 根据 ID 获取通知记录
func (r *GormNotificationLogRepository) GetByID(id uint) (*models.NotificationLog, error) {
	var log models.NotificationLog
	if err := r.db.First(&log, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// GetByDedupe 根据去重键获取通知记录
func (r *GormNotificationLogRepository) GetByDedupe(orderID uint, emailType, dedupeKey string) (*models.NotificationLog, error) {
	var log models.NotificationLog
	err := r.db.Where("order_id = ? AND email_type = ? AND dedupe_key = ?", orderID, emailType, dedupeKey).
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// MarkSent 标记通知已实际发出
func (r *GormNotificationLogRepository) MarkSent(id uint, sentAt time.Time) error {
	return r.db.Model(&models.NotificationLog{}).Where("id = ?", id).Update("sent_at", sentAt).Error
}

// ListByOrderID 获取履约单下全部通知记录
func (r *GormNotificationLogRepository) ListByOrderID(orderID uint) ([]models.NotificationLog, error) {
	var logs []models.NotificationLog
	if err := r.db.Where("order_id = ?", orderID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
