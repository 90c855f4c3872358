package service

import (
	"context"
	"fmt"
	"math/rand"
	"net/mail"
	"strings"
	"time"

	"github.com/kecheng-next/internal/cache"
	"github.com/kecheng-next/internal/config"
	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/queue"
	"github.com/kecheng-next/internal/repository"
	"github.com/kecheng-next/internal/storage"

	"gorm.io/gorm"
)

const orderCacheTTL = 30 * time.Second

// IntakeItemInput 履约单接收的单个商品行
type IntakeItemInput struct {
	KindHint        string                 `json:"kind_hint" binding:"required"`
	ProductRef      string                 `json:"product_ref" binding:"required"`
	Title           models.JSON            `json:"title"`
	Quantity        int                    `json:"quantity"`
	UnitPrice       models.Money           `json:"unit_price"`
	ShippingMethod  string                 `json:"shipping_method"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
}

// IntakeInput 履约单接收参数（结算服务在支付成功后调用）
type IntakeInput struct {
	OrderNo   string            `json:"order_no" binding:"required"`
	PaymentID string            `json:"payment_id" binding:"required"`
	UserEmail string            `json:"user_email" binding:"required"`
	Locale    string            `json:"locale"`
	Items     []IntakeItemInput `json:"items" binding:"required"`
}

// ManualConfirmInput 人工确认参数
type ManualConfirmInput struct {
	Action         string `json:"action" binding:"required"` // shipped / delivered
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

// DispatcherService 履约调度服务：接收、分类、提交与重试
type DispatcherService struct {
	orderRepo       repository.FulfillmentOrderRepository
	supplierRepo    repository.SupplierOrderRepository
	notificationSvc *NotificationService
	digitalSvc      *DigitalDeliveryService
	registry        *connector.Registry
	queueClient     *queue.Client
	cfg             config.FulfillmentConfig
	opsEmail        string
}

// NewDispatcherService 创建履约调度服务
func NewDispatcherService(
	orderRepo repository.FulfillmentOrderRepository,
	supplierRepo repository.SupplierOrderRepository,
	notificationSvc *NotificationService,
	digitalSvc *DigitalDeliveryService,
	registry *connector.Registry,
	queueClient *queue.Client,
	cfg config.FulfillmentConfig,
	opsEmail string,
) *DispatcherService {
	return &DispatcherService{
		orderRepo:       orderRepo,
		supplierRepo:    supplierRepo,
		notificationSvc: notificationSvc,
		digitalSvc:      digitalSvc,
		registry:        registry,
		queueClient:     queueClient,
		cfg:             cfg,
		opsEmail:        opsEmail,
	}
}

// Intake 接收已支付订单并建立履约单。order_no 幂等：重复调用返回已有履约单。
func (s *DispatcherService) Intake(ctx context.Context, input IntakeInput) (*models.FulfillmentOrder, error) {
	if err := validateIntake(input); err != nil {
		return nil, err
	}

	existing, err := s.orderRepo.GetByOrderNo(input.OrderNo)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Infow("fulfillment_intake_duplicate", "order_no", input.OrderNo)
		return existing, nil
	}

	order := &models.FulfillmentOrder{
		OrderNo:         strings.TrimSpace(input.OrderNo),
		PaymentID:       strings.TrimSpace(input.PaymentID),
		UserEmail:       strings.TrimSpace(input.UserEmail),
		Locale:          strings.TrimSpace(input.Locale),
		AggregateStatus: constants.AggregateStatusProcessing,
	}
	items := make([]models.FulfillmentItem, 0, len(input.Items))
	for _, itemInput := range input.Items {
		quantity := itemInput.Quantity
		if quantity < 1 {
			quantity = 1
		}
		items = append(items, models.FulfillmentItem{
			Kind:            resolveKind(itemInput.KindHint),
			Status:          constants.ItemStatusQueued,
			ProductRef:      strings.TrimSpace(itemInput.ProductRef),
			TitleJSON:       itemInput.Title,
			Quantity:        quantity,
			UnitPrice:       itemInput.UnitPrice,
			ShippingMethod:  strings.TrimSpace(itemInput.ShippingMethod),
			ShippingAddress: itemInput.ShippingAddress,
		})
	}

	var confirmLog *models.NotificationLog
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.WithTx(tx).Create(order, items); err != nil {
			return err
		}
		// 确认邮件先于任何履约项邮件落库，保证因果顺序
		log, err := s.notificationSvc.EmitInTx(tx, NotificationInput{
			OrderID:   order.ID,
			EmailType: constants.EmailTypeOrderConfirmed,
			DedupeKey: "order",
			Recipient: order.UserEmail,
			Locale:    order.Locale,
			Vars:      map[string]string{"order_no": order.OrderNo},
		})
		if err != nil {
			return err
		}
		confirmLog = log
		return nil
	})
	if err != nil {
		// 并发重复接收时落在唯一索引上，回查返回已有履约单
		if again, getErr := s.orderRepo.GetByOrderNo(input.OrderNo); getErr == nil && again != nil {
			return again, nil
		}
		return nil, err
	}

	s.notificationSvc.DispatchAfterCommit(confirmLog)
	logger.Infow("fulfillment_intake_accepted",
		"order_no", order.OrderNo,
		"order_id", order.ID,
		"item_count", len(order.Items),
	)

	for _, item := range order.Items {
		if s.queueClient.Enabled() {
			if err := s.queueClient.EnqueueItemSubmit(queue.ItemSubmitPayload{OrderID: order.ID, ItemID: item.ID}, 0); err != nil {
				logger.Errorw("item_submit_enqueue_failed", "order_no", order.OrderNo, "item_id", item.ID, "error", err)
			}
			continue
		}
		if err := s.SubmitItem(ctx, item.ID); err != nil {
			logger.Warnw("item_submit_inline_failed", "order_no", order.OrderNo, "item_id", item.ID, "error", err)
		}
	}
	return order, nil
}

// SubmitItem 执行单个履约项的提交。幂等：非可提交状态直接跳过。
func (s *DispatcherService) SubmitItem(ctx context.Context, itemID uint) error {
	item, err := s.orderRepo.GetItem(itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if item.Status != constants.ItemStatusQueued && item.Status != constants.ItemStatusSubmitting {
		logger.Debugw("item_submit_skipped", "item_id", itemID, "status", item.Status)
		return nil
	}
	order, err := s.orderRepo.GetByID(item.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}

	switch item.Kind {
	case constants.ItemKindDigitalCourse:
		return s.submitDigitalCourse(ctx, order, item)
	case constants.ItemKindSubscription:
		return s.submitSubscription(order, item)
	case constants.ItemKindOwnedInventory:
		return s.submitOwnedInventory(order, item)
	default:
		return s.submitToSupplier(ctx, order, item)
	}
}

func (s *DispatcherService) submitDigitalCourse(ctx context.Context, order *models.FulfillmentOrder, item *models.FulfillmentItem) error {
	var logs []*models.NotificationLog
	err := withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		grant, err := s.digitalSvc.GrantCourseAccess(ctx, tx, order, item)
		if err != nil {
			return err
		}
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
			"status":     constants.ItemStatusFulfilled,
			"attempts":   item.Attempts + 1,
			"last_error": "",
		}); err != nil {
			return err
		}
		vars := map[string]string{
			"order_no":   order.OrderNo,
			"item_title": titleForLocale(item.TitleJSON, order.Locale),
			"access_url": grant.AccessURL,
		}
		if len(grant.MaterialLinks) > 0 {
			vars["material_links"] = formatMaterialLinks(grant.MaterialLinks)
			vars["material_expires"] = grant.MaterialExpires.Format("2006-01-02 15:04")
		}
		log, err := s.notificationSvc.EmitInTx(tx, NotificationInput{
			OrderID:   order.ID,
			EmailType: constants.EmailTypeCourseAccess,
			DedupeKey: fmt.Sprintf("item:%d", item.ID),
			Recipient: order.UserEmail,
			Locale:    order.Locale,
			Vars:      vars,
		})
		if err != nil {
			return err
		}
		logs = append(logs, log)
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return err
	}
	s.afterTransition(order.OrderNo, logs...)
	return nil
}

func (s *DispatcherService) submitSubscription(order *models.FulfillmentOrder, item *models.FulfillmentItem) error {
	var logs []*models.NotificationLog
	err := withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		entitlement, err := s.digitalSvc.ActivateSubscription(tx, order, item)
		if err != nil {
			return err
		}
		if _, err := s.digitalSvc.EnsureSubscriptionDelivery(tx, item); err != nil {
			return err
		}
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
			"status":     constants.ItemStatusFulfilled,
			"attempts":   item.Attempts + 1,
			"last_error": "",
		}); err != nil {
			return err
		}
		log, err := s.notificationSvc.EmitInTx(tx, NotificationInput{
			OrderID:   order.ID,
			EmailType: constants.EmailTypeSubscriptionActive,
			DedupeKey: fmt.Sprintf("item:%d", item.ID),
			Recipient: order.UserEmail,
			Locale:    order.Locale,
			Vars: map[string]string{
				"order_no":   order.OrderNo,
				"item_title": titleForLocale(item.TitleJSON, order.Locale),
				"expires_at": entitlement.ExpiresAt.Format("2006-01-02"),
			},
		})
		if err != nil {
			return err
		}
		logs = append(logs, log)
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return err
	}
	s.afterTransition(order.OrderNo, logs...)
	return nil
}

// submitOwnedInventory 自有库存走仓库人工发货，挂起等待确认
func (s *DispatcherService) submitOwnedInventory(order *models.FulfillmentOrder, item *models.FulfillmentItem) error {
	var logs []*models.NotificationLog
	err := withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		now := time.Now()
		if item.SupplierOrder == nil {
			supplierOrder := &models.SupplierOrder{
				ItemID:                   item.ID,
				SupplierName:             constants.SupplierWarehouse,
				Status:                   constants.SupplierOrderStatusAccepted,
				ManualConfirmationNeeded: true,
				SubmittedAt:              &now,
			}
			if err := s.supplierRepo.WithTx(tx).Create(supplierOrder); err != nil {
				return err
			}
		}
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
			"status":     constants.ItemStatusPendingSupplier,
			"attempts":   item.Attempts + 1,
			"last_error": "",
		}); err != nil {
			return err
		}
		log, err := s.emitOpsNotificationInTx(tx, order, item, constants.EmailTypeInventoryManualShip)
		if err != nil {
			return err
		}
		logs = append(logs, log)
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return err
	}
	s.afterTransition(order.OrderNo, logs...)
	return nil
}

func (s *DispatcherService) submitToSupplier(ctx context.Context, order *models.FulfillmentOrder, item *models.FulfillmentItem) error {
	conn := s.registry.ByKind(item.Kind)
	if conn == nil {
		return s.applyRejection(order, item, "no connector for kind "+item.Kind)
	}
	if item.SupplierOrder != nil && supplierStatusRank[item.SupplierOrder.Status] >= supplierStatusRank[constants.SupplierOrderStatusAccepted] {
		logger.Debugw("item_submit_already_accepted", "item_id", item.ID, "supplier", item.SupplierOrder.SupplierName)
		return nil
	}

	if err := s.orderRepo.UpdateItem(item.ID, map[string]interface{}{"status": constants.ItemStatusSubmitting}); err != nil {
		return err
	}

	result, err := conn.Submit(ctx, buildSubmitInput(order, item))
	if err != nil {
		// 配置或报文错误按瞬时失败处理，交给重试上限收束
		result = &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}
	}

	switch result.Outcome {
	case connector.OutcomeAccepted:
		return s.applyAcceptance(order, item, conn.Name(), result)
	case connector.OutcomeRejected:
		return s.applyRejection(order, item, result.Reason)
	default:
		return s.applyTransientFailure(order, item, result.Reason)
	}
}

func (s *DispatcherService) applyAcceptance(order *models.FulfillmentOrder, item *models.FulfillmentItem, supplierName string, result *connector.SubmitResult) error {
	var logs []*models.NotificationLog
	err := withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		supplierTx := s.supplierRepo.WithTx(tx)
		existing, err := supplierTx.GetByItemID(item.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		if existing == nil {
			supplierOrder := &models.SupplierOrder{
				ItemID:                   item.ID,
				SupplierName:             supplierName,
				ExternalOrderID:          result.ExternalOrderID,
				Status:                   constants.SupplierOrderStatusAccepted,
				ManualConfirmationNeeded: result.ManualConfirmation,
				QuoteAmount:              models.NewMoneyFromDecimal(result.QuoteAmount),
				QuoteCurrency:            result.QuoteCurrency,
				SubmittedAt:              &now,
			}
			if !result.ExchangeRate.IsZero() {
				// 汇率在提交时点固化，后续汇率变动不回溯
				supplierOrder.ExchangeRate = result.ExchangeRate.String()
			}
			if err := supplierTx.Create(supplierOrder); err != nil {
				return err
			}
		}
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
			"status":     constants.ItemStatusPendingSupplier,
			"attempts":   item.Attempts + 1,
			"last_error": "",
		}); err != nil {
			return err
		}
		if result.ManualConfirmation {
			log, err := s.emitOpsNotificationInTx(tx, order, item, constants.EmailTypeDropshipConfirm)
			if err != nil {
				return err
			}
			logs = append(logs, log)
		}
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return err
	}
	logger.Infow("item_submit_accepted",
		"order_no", order.OrderNo,
		"item_id", item.ID,
		"supplier", supplierName,
		"external_order_id", result.ExternalOrderID,
		"manual_confirmation", result.ManualConfirmation,
	)
	s.afterTransition(order.OrderNo, logs...)
	return nil
}

// applyRejection 供应商明确拒绝：立即终态失败，不进入重试
func (s *DispatcherService) applyRejection(order *models.FulfillmentOrder, item *models.FulfillmentItem, reason string) error {
	var logs []*models.NotificationLog
	err := withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
			"status":     constants.ItemStatusFailed,
			"attempts":   item.Attempts + 1,
			"last_error": truncateReason(reason),
		}); err != nil {
			return err
		}
		log, err := s.emitFailureNotificationInTx(tx, order, item, reason)
		if err != nil {
			return err
		}
		logs = append(logs, log)
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return err
	}
	logger.Warnw("item_submit_rejected", "order_no", order.OrderNo, "item_id", item.ID, "reason", reason)
	s.afterTransition(order.OrderNo, logs...)
	return nil
}

// applyTransientFailure 瞬时失败：未到上限退避重试，到上限终态失败
func (s *DispatcherService) applyTransientFailure(order *models.FulfillmentOrder, item *models.FulfillmentItem, reason string) error {
	attempts := item.Attempts + 1
	maxAttempts := s.cfg.MaxSubmitAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxSubmitAttempts
	}

	if attempts >= maxAttempts {
		var logs []*models.NotificationLog
		err := withAggregateRetry(func(tx *gorm.DB) error {
			logs = logs[:0]
			if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{
				"status":     constants.ItemStatusFailed,
				"attempts":   attempts,
				"last_error": truncateReason(reason),
			}); err != nil {
				return err
			}
			log, err := s.emitFailureNotificationInTx(tx, order, item, reason)
			if err != nil {
				return err
			}
			logs = append(logs, log)
			return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
		})
		if err != nil {
			return err
		}
		logger.Errorw("item_submit_exhausted",
			"order_no", order.OrderNo,
			"item_id", item.ID,
			"attempts", attempts,
			"reason", reason,
		)
		s.afterTransition(order.OrderNo, logs...)
		return nil
	}

	if err := s.orderRepo.UpdateItem(item.ID, map[string]interface{}{
		"status":     constants.ItemStatusQueued,
		"attempts":   attempts,
		"last_error": truncateReason(reason),
	}); err != nil {
		return err
	}
	if !s.queueClient.Enabled() {
		// 无队列时没有定时重试，履约项停在 queued 等待下一次手动提交
		logger.Errorw("item_submit_retry_dropped_queue_disabled",
			"order_no", order.OrderNo,
			"item_id", item.ID,
			"attempts", attempts,
			"reason", reason,
		)
		return nil
	}
	delay := s.backoffDelay(attempts)
	logger.Warnw("item_submit_retry_scheduled",
		"order_no", order.OrderNo,
		"item_id", item.ID,
		"attempts", attempts,
		"delay_seconds", int(delay.Seconds()),
		"reason", reason,
	)
	if err := s.queueClient.EnqueueItemSubmit(queue.ItemSubmitPayload{OrderID: order.ID, ItemID: item.ID}, delay); err != nil {
		logger.Errorw("item_submit_retry_enqueue_failed", "item_id", item.ID, "error", err)
	}
	return nil
}

// ConfirmManualItem 运营人工确认发货或送达（直邮人工模式与自有库存）
func (s *DispatcherService) ConfirmManualItem(itemID uint, input ManualConfirmInput) (*models.FulfillmentItem, error) {
	item, err := s.orderRepo.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if item.SupplierOrder == nil || !item.SupplierOrder.ManualConfirmationNeeded {
		return nil, ErrManualConfirmInvalid
	}
	order, err := s.orderRepo.GetByID(item.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	action := strings.ToLower(strings.TrimSpace(input.Action))
	var supplierStatus string
	switch action {
	case "shipped":
		supplierStatus = constants.SupplierOrderStatusShipped
	case "delivered":
		supplierStatus = constants.SupplierOrderStatusDelivered
	default:
		return nil, ErrManualConfirmInvalid
	}

	var logs []*models.NotificationLog
	err = withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		supplierTx := s.supplierRepo.WithTx(tx)
		// 单调守卫基于事务内的最新快照，重复确认与并发回执都挡在这里
		current, err := supplierTx.GetByItemID(item.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.ManualConfirmationNeeded {
			return ErrManualConfirmInvalid
		}
		if !supplierStatusAdvances(current.Status, supplierStatus) {
			return ErrItemStateInvalid
		}
		now := time.Now()
		if err := supplierTx.AppendStatusLog(&models.SupplierStatusLog{
			SupplierOrderID:  current.ID,
			RawStatus:        "manual:" + action,
			NormalizedStatus: supplierStatus,
			ObservedAt:       now,
		}); err != nil {
			return err
		}
		updates := map[string]interface{}{"status": supplierStatus}
		if action == "shipped" {
			updates["shipped_at"] = now
			updates["shipping_carrier"] = strings.TrimSpace(input.Carrier)
			updates["tracking_number"] = strings.TrimSpace(input.TrackingNumber)
			updates["tracking_url"] = strings.TrimSpace(input.TrackingURL)
		} else {
			updates["delivered_at"] = now
		}
		if err := supplierTx.Update(current.ID, updates); err != nil {
			return err
		}

		itemStatus := itemStatusForSupplier(supplierStatus)
		if err := s.orderRepo.WithTx(tx).UpdateItem(item.ID, map[string]interface{}{"status": itemStatus}); err != nil {
			return err
		}

		emailType := constants.EmailTypeOrderShipped
		vars := map[string]string{
			"order_no":        order.OrderNo,
			"item_title":      titleForLocale(item.TitleJSON, order.Locale),
			"carrier":         strings.TrimSpace(input.Carrier),
			"tracking_number": strings.TrimSpace(input.TrackingNumber),
			"tracking_url":    strings.TrimSpace(input.TrackingURL),
		}
		if action == "delivered" {
			emailType = constants.EmailTypeOrderDelivered
		}
		log, err := s.notificationSvc.EmitInTx(tx, NotificationInput{
			OrderID:   order.ID,
			EmailType: emailType,
			DedupeKey: fmt.Sprintf("item:%d", item.ID),
			Recipient: order.UserEmail,
			Locale:    order.Locale,
			Vars:      vars,
		})
		if err != nil {
			return err
		}
		logs = append(logs, log)
		return recomputeAggregateInTx(tx, s.orderRepo, order.ID)
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("item_manual_confirmed", "order_no", order.OrderNo, "item_id", item.ID, "action", action)
	s.afterTransition(order.OrderNo, logs...)
	return s.orderRepo.GetItem(itemID)
}

// RemindStaleManualConfirmations 提醒长时间未处理的人工确认项，每天至多一次
func (s *DispatcherService) RemindStaleManualConfirmations(now time.Time) error {
	remindHours := s.cfg.ManualConfirmRemindHours
	if remindHours <= 0 {
		remindHours = constants.DefaultManualConfirmRemindHours
	}
	before := now.Add(-time.Duration(remindHours) * time.Hour)
	pending, err := s.supplierRepo.ListManualPending(before)
	if err != nil {
		return err
	}
	for _, supplierOrder := range pending {
		item, err := s.orderRepo.GetItem(supplierOrder.ItemID)
		if err != nil || item == nil {
			continue
		}
		order, err := s.orderRepo.GetByID(item.OrderID)
		if err != nil || order == nil {
			continue
		}
		emailType := constants.EmailTypeDropshipConfirm
		if supplierOrder.SupplierName == constants.SupplierWarehouse {
			emailType = constants.EmailTypeInventoryManualShip
		}
		var log *models.NotificationLog
		txErr := models.DB.Transaction(func(tx *gorm.DB) error {
			emitted, err := s.notificationSvc.EmitInTx(tx, NotificationInput{
				OrderID:   order.ID,
				EmailType: emailType,
				DedupeKey: fmt.Sprintf("remind:item:%d:%s", item.ID, now.Format("2006-01-02")),
				Recipient: s.opsEmail,
				Locale:    constants.LocaleZhCN,
				Vars: map[string]string{
					"order_no":   order.OrderNo,
					"item_title": titleForLocale(item.TitleJSON, order.Locale),
					"item_id":    fmt.Sprintf("%d", item.ID),
				},
			})
			if err != nil {
				return err
			}
			log = emitted
			return nil
		})
		if txErr != nil {
			logger.Warnw("manual_confirm_remind_failed", "item_id", item.ID, "error", txErr)
			continue
		}
		s.notificationSvc.DispatchAfterCommit(log)
	}
	return nil
}

// GetOrderByOrderNo 查询履约单读模型（短缓存）
func (s *DispatcherService) GetOrderByOrderNo(ctx context.Context, orderNo string) (*models.FulfillmentOrder, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, ErrOrderNotFound
	}
	cacheKey := buildOrderCacheKey(orderNo)
	var cached models.FulfillmentOrder
	if hit, err := cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if err := cache.SetJSON(ctx, cacheKey, order, orderCacheTTL); err != nil {
		logger.Debugw("order_cache_set_failed", "order_no", orderNo, "error", err)
	}
	return order, nil
}

func (s *DispatcherService) emitOpsNotificationInTx(tx *gorm.DB, order *models.FulfillmentOrder, item *models.FulfillmentItem, emailType string) (*models.NotificationLog, error) {
	if strings.TrimSpace(s.opsEmail) == "" {
		logger.Warnw("ops_email_not_configured", "order_no", order.OrderNo, "item_id", item.ID, "email_type", emailType)
		return nil, nil
	}
	return s.notificationSvc.EmitInTx(tx, NotificationInput{
		OrderID:   order.ID,
		EmailType: emailType,
		DedupeKey: fmt.Sprintf("item:%d", item.ID),
		Recipient: s.opsEmail,
		Locale:    constants.LocaleZhCN,
		Vars: map[string]string{
			"order_no":   order.OrderNo,
			"item_title": titleForLocale(item.TitleJSON, order.Locale),
			"item_id":    fmt.Sprintf("%d", item.ID),
		},
	})
}

func (s *DispatcherService) emitFailureNotificationInTx(tx *gorm.DB, order *models.FulfillmentOrder, item *models.FulfillmentItem, reason string) (*models.NotificationLog, error) {
	return s.notificationSvc.EmitInTx(tx, NotificationInput{
		OrderID:   order.ID,
		EmailType: constants.EmailTypeOrderFailed,
		DedupeKey: fmt.Sprintf("item:%d", item.ID),
		Recipient: order.UserEmail,
		Locale:    order.Locale,
		Vars: map[string]string{
			"order_no":   order.OrderNo,
			"item_title": titleForLocale(item.TitleJSON, order.Locale),
			"reason":     reason,
		},
	})
}

func (s *DispatcherService) afterTransition(orderNo string, logs ...*models.NotificationLog) {
	if err := cache.Del(context.Background(), buildOrderCacheKey(orderNo)); err != nil {
		logger.Debugw("order_cache_del_failed", "order_no", orderNo, "error", err)
	}
	s.notificationSvc.DispatchAfterCommit(logs...)
}

func (s *DispatcherService) backoffDelay(attempt int) time.Duration {
	base := s.cfg.RetryBackoffBaseSeconds
	if base <= 0 {
		base = 30
	}
	maxSeconds := s.cfg.RetryBackoffMaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 3600
	}
	seconds := base
	for i := 1; i < attempt; i++ {
		seconds *= 2
		if seconds >= maxSeconds {
			seconds = maxSeconds
			break
		}
	}
	// 抖动最多 50%，避免同批重试挤在同一时刻
	jitter := rand.Intn(seconds/2 + 1)
	return time.Duration(seconds+jitter) * time.Second
}

func validateIntake(input IntakeInput) error {
	if strings.TrimSpace(input.OrderNo) == "" || strings.TrimSpace(input.PaymentID) == "" {
		return ErrIntakeInvalid
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.UserEmail)); err != nil {
		return fmt.Errorf("%w: user_email", ErrIntakeInvalid)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: empty items", ErrIntakeInvalid)
	}
	for i, item := range input.Items {
		kind := resolveKind(item.KindHint)
		if kind == "" {
			return fmt.Errorf("%w: item %d kind %q", ErrKindUnknown, i, item.KindHint)
		}
		if strings.TrimSpace(item.ProductRef) == "" {
			return fmt.Errorf("%w: item %d missing product_ref", ErrIntakeInvalid, i)
		}
		if kindNeedsShipping(kind) && item.ShippingAddress.IsZero() {
			return fmt.Errorf("%w: item %d missing shipping_address", ErrIntakeInvalid, i)
		}
	}
	return nil
}

// resolveKind 分类：类型提示在接收时固化，后续不再改判
func resolveKind(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case constants.ItemKindDigitalCourse:
		return constants.ItemKindDigitalCourse
	case constants.ItemKindSubscription:
		return constants.ItemKindSubscription
	case constants.ItemKindPodPrism:
		return constants.ItemKindPodPrism
	case constants.ItemKindPodInkwell:
		return constants.ItemKindPodInkwell
	case constants.ItemKindDropship:
		return constants.ItemKindDropship
	case constants.ItemKindOwnedInventory:
		return constants.ItemKindOwnedInventory
	default:
		return ""
	}
}

func kindNeedsShipping(kind string) bool {
	switch kind {
	case constants.ItemKindPodPrism, constants.ItemKindPodInkwell,
		constants.ItemKindDropship, constants.ItemKindOwnedInventory:
		return true
	default:
		return false
	}
}

func buildSubmitInput(order *models.FulfillmentOrder, item *models.FulfillmentItem) connector.SubmitInput {
	return connector.SubmitInput{
		OrderNo:        order.OrderNo,
		ItemID:         item.ID,
		ProductRef:     item.ProductRef,
		Title:          titleForLocale(item.TitleJSON, order.Locale),
		Quantity:       item.Quantity,
		ShippingMethod: item.ShippingMethod,
		RecipientName:  item.ShippingAddress.Name,
		RecipientPhone: item.ShippingAddress.Phone,
		CountryCode:    item.ShippingAddress.CountryCode,
		Province:       item.ShippingAddress.Province,
		City:           item.ShippingAddress.City,
		AddressLine:    item.ShippingAddress.AddressLine,
		PostalCode:     item.ShippingAddress.PostalCode,
	}
}

func titleForLocale(title models.JSON, locale string) string {
	if len(title) == 0 {
		return ""
	}
	candidates := []string{strings.TrimSpace(locale), constants.LocaleZhCN, constants.LocaleEnUS}
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if value, ok := title[key]; ok {
			if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
				return text
			}
		}
	}
	for _, value := range title {
		if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}

func formatMaterialLinks(links []storage.MaterialLink) string {
	lines := make([]string, 0, len(links))
	for _, link := range links {
		lines = append(lines, fmt.Sprintf("%s\n%s", link.Key, link.URL))
	}
	return strings.Join(lines, "\n\n")
}

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > 480 {
		return reason[:480]
	}
	return reason
}

func buildOrderCacheKey(orderNo string) string {
	return "fulfillment:order:" + orderNo
}
