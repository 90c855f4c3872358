package service

import (
	"errors"
	"strings"

	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/repository"

	"gorm.io/gorm"
)

// supplierStatusRank 供应商状态的单调序。回执只能把状态向前推，
// 等于或低于当前序的回执只记流水不迁移。
var supplierStatusRank = map[string]int{
	constants.SupplierOrderStatusCreated:   0,
	constants.SupplierOrderStatusSubmitted: 1,
	constants.SupplierOrderStatusAccepted:  2,
	constants.SupplierOrderStatusShipped:   3,
	constants.SupplierOrderStatusDelivered: 4,
	constants.SupplierOrderStatusRejected:  5,
	constants.SupplierOrderStatusCancelled: 5,
}

// isItemTerminal 判断履约项是否处于终态
func isItemTerminal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case constants.ItemStatusFulfilled, constants.ItemStatusDelivered,
		constants.ItemStatusFailed, constants.ItemStatusCancelled:
		return true
	default:
		return false
	}
}

// isItemTerminalSuccess 判断履约项是否成功收束
func isItemTerminalSuccess(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case constants.ItemStatusFulfilled, constants.ItemStatusDelivered:
		return true
	default:
		return false
	}
}

// supplierStatusAdvances 判断回执状态相对当前状态是否前进。
// 终态（送达/拒绝/取消）之后不再接受任何迁移。
func supplierStatusAdvances(current, incoming string) bool {
	normalized := strings.ToLower(strings.TrimSpace(current))
	switch normalized {
	case constants.SupplierOrderStatusDelivered,
		constants.SupplierOrderStatusRejected,
		constants.SupplierOrderStatusCancelled:
		return false
	}
	currentRank, ok := supplierStatusRank[normalized]
	if !ok {
		currentRank = 0
	}
	incomingRank, ok := supplierStatusRank[strings.ToLower(strings.TrimSpace(incoming))]
	if !ok {
		return false
	}
	return incomingRank > currentRank
}

// itemStatusForSupplier 供应商状态到履约项状态的映射
func itemStatusForSupplier(supplierStatus string) string {
	switch strings.ToLower(strings.TrimSpace(supplierStatus)) {
	case constants.SupplierOrderStatusShipped:
		return constants.ItemStatusShipped
	case constants.SupplierOrderStatusDelivered:
		return constants.ItemStatusDelivered
	case constants.SupplierOrderStatusRejected:
		return constants.ItemStatusFailed
	case constants.SupplierOrderStatusCancelled:
		return constants.ItemStatusCancelled
	default:
		return ""
	}
}

// calcAggregateStatus 由履约项状态推导聚合状态。聚合状态没有独立状态机，
// 任何写入都必须经由该推导。
func calcAggregateStatus(items []models.FulfillmentItem) string {
	if len(items) == 0 {
		return constants.AggregateStatusProcessing
	}
	var successCount int
	var failedCount int
	for _, item := range items {
		status := strings.ToLower(strings.TrimSpace(item.Status))
		if isItemTerminalSuccess(status) {
			successCount++
			continue
		}
		if status == constants.ItemStatusFailed || status == constants.ItemStatusCancelled {
			failedCount++
		}
	}
	total := len(items)
	if successCount == total {
		return constants.AggregateStatusFulfilled
	}
	if failedCount == total {
		return constants.AggregateStatusFailed
	}
	if successCount > 0 {
		return constants.AggregateStatusPartiallyFulfilled
	}
	return constants.AggregateStatusProcessing
}

// recomputeAggregateInTx 在事务内重推聚合状态并带版本写回，
// 版本不匹配返回 ErrVersionConflict，调用方回滚后整体重试。
func recomputeAggregateInTx(tx *gorm.DB, orderRepo repository.FulfillmentOrderRepository, orderID uint) error {
	var order models.FulfillmentOrder
	if err := tx.First(&order, orderID).Error; err != nil {
		return err
	}
	items, err := orderRepo.WithTx(tx).ListItems(orderID)
	if err != nil {
		return err
	}
	next := calcAggregateStatus(items)
	ok, err := orderRepo.WithTx(tx).UpdateAggregateStatus(orderID, order.Version, next)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	return nil
}

// withAggregateRetry 版本冲突时回滚重试整个事务，至多三次
func withAggregateRetry(fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = models.DB.Transaction(fn)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return err
}
