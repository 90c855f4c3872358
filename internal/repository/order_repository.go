package repository

import (
	"errors"
	"strings"

	"github.com/kecheng-next/internal/models"

	"gorm.io/gorm"
)

// FulfillmentOrderRepository 履约单数据访问接口
type FulfillmentOrderRepository interface {
	Create(order *models.FulfillmentOrder, items []models.FulfillmentItem) error
	GetByID(id uint) (*models.FulfillmentOrder, error)
	GetByOrderNo(orderNo string) (*models.FulfillmentOrder, error)
	GetItem(itemID uint) (*models.FulfillmentItem, error)
	ListItems(orderID uint) ([]models.FulfillmentItem, error)
	List(filter OrderListFilter) ([]models.FulfillmentOrder, int64, error)
	UpdateItem(itemID uint, updates map[string]interface{}) error
	UpdateAggregateStatus(orderID uint, fromVersion int64, status string) (bool, error)
	WithTx(tx *gorm.DB) *GormFulfillmentOrderRepository
}

// GormFulfillmentOrderRepository GORM 实现
type GormFulfillmentOrderRepository struct {
	db *gorm.DB
}

// NewFulfillmentOrderRepository 创建履约单仓库
func NewFulfillmentOrderRepository(db *gorm.DB) *GormFulfillmentOrderRepository {
	return &GormFulfillmentOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormFulfillmentOrderRepository) WithTx(tx *gorm.DB) *GormFulfillmentOrderRepository {
	if tx == nil {
		return r
	}
	return &GormFulfillmentOrderRepository{db: tx}
}

func (r *GormFulfillmentOrderRepository) withDetails(query *gorm.DB) *gorm.DB {
	return query.
		Preload("Items").
		Preload("Items.SupplierOrder").
		Preload("Items.SupplierOrder.StatusLogs").
		Preload("Items.DigitalDelivery")
}

// Create 创建履约单与履约项
func (r *GormFulfillmentOrderRepository) Create(order *models.FulfillmentOrder, items []models.FulfillmentItem) error {
	if err := r.db.Create(order).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := r.db.Create(&items).Error; err != nil {
			return err
		}
	}
	order.Items = items
	return nil
}

// GetByID 根据 ID 获取履约单（含履约项、供应商单与数字交付）
func (r *GormFulfillmentOrderRepository) GetByID(id uint) (*models.FulfillmentOrder, error) {
	var order models.FulfillmentOrder
	if err := r.withDetails(r.db).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 根据订单号获取履约单（含履约项、供应商单与数字交付）
func (r *GormFulfillmentOrderRepository) GetByOrderNo(orderNo string) (*models.FulfillmentOrder, error) {
	var order models.FulfillmentOrder
	if err := r.withDetails(r.db).Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetItem 根据 ID 获取履约项（含供应商单）
func (r *GormFulfillmentOrderRepository) GetItem(itemID uint) (*models.FulfillmentItem, error) {
	var item models.FulfillmentItem
	if err := r.db.Preload("SupplierOrder").Preload("DigitalDelivery").First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListItems 获取履约单下全部履约项
func (r *GormFulfillmentOrderRepository) ListItems(orderID uint) ([]models.FulfillmentItem, error) {
	var items []models.FulfillmentItem
	if err := r.db.Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// List 分页查询履约单
func (r *GormFulfillmentOrderRepository) List(filter OrderListFilter) ([]models.FulfillmentOrder, int64, error) {
	query := r.db.Model(&models.FulfillmentOrder{})
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}
	if filter.UserEmail != "" {
		query = query.Where("user_email = ?", filter.UserEmail)
	}
	if filter.AggregateStatus != "" {
		query = query.Where("aggregate_status = ?", filter.AggregateStatus)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		// 按订单号 / 收件邮箱 / 商品多语言标题模糊匹配
		condition, argCount := buildLocalizedLikeCondition(r.db,
			[]string{"fulfillment_orders.order_no", "fulfillment_orders.user_email"},
			[]string{"fulfillment_items.title_json"},
		)
		like := "%" + keyword + "%"
		query = query.
			Joins("LEFT JOIN fulfillment_items ON fulfillment_items.order_id = fulfillment_orders.id").
			Where(condition, repeatLikeArgs(like, argCount)...).
			Distinct("fulfillment_orders.*")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.FulfillmentOrder
	query = applyPagination(query.Order("id DESC").Preload("Items"), filter.Page, filter.PageSize)
	if err := query.Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateItem 更新履约项字段
func (r *GormFulfillmentOrderRepository) UpdateItem(itemID uint, updates map[string]interface{}) error {
	return r.db.Model(&models.FulfillmentItem{}).Where("id = ?", itemID).Updates(updates).Error
}

// UpdateAggregateStatus 带版本校验更新聚合状态，版本不匹配时返回 false
func (r *GormFulfillmentOrderRepository) UpdateAggregateStatus(orderID uint, fromVersion int64, status string) (bool, error) {
	result := r.db.Model(&models.FulfillmentOrder{}).
		Where("id = ? AND version = ?", orderID, fromVersion).
		Updates(map[string]interface{}{
			"aggregate_status": status,
			"version":          fromVersion + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
