package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
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

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const webhookSeenTTL = 10 * time.Minute

// ReconcilerService 回执对账服务：接收供应商回调、归一化、
// 单调推进状态并缓冲提前到达的回调。
type ReconcilerService struct {
	orderRepo       repository.FulfillmentOrderRepository
	supplierRepo    repository.SupplierOrderRepository
	webhookRepo     repository.WebhookEventRepository
	notificationSvc *NotificationService
	registry        *connector.Registry
	queueClient     *queue.Client
	cfg             config.FulfillmentConfig
}

// NewReconcilerService 创建回执对账服务
func NewReconcilerService(
	orderRepo repository.FulfillmentOrderRepository,
	supplierRepo repository.SupplierOrderRepository,
	webhookRepo repository.WebhookEventRepository,
	notificationSvc *NotificationService,
	registry *connector.Registry,
	queueClient *queue.Client,
	cfg config.FulfillmentConfig,
) *ReconcilerService {
	return &ReconcilerService{
		orderRepo:       orderRepo,
		supplierRepo:    supplierRepo,
		webhookRepo:     webhookRepo,
		notificationSvc: notificationSvc,
		registry:        registry,
		queueClient:     queueClient,
		cfg:             cfg,
	}
}

// HandleWebhook 处理供应商回调。supplierHint 来自路由路径，
// 为空或未注册时按报文特征探测归属连接器。
func (s *ReconcilerService) HandleWebhook(ctx context.Context, supplierHint string, headers http.Header, body []byte) error {
	candidates := s.registry.All()
	if hinted := s.registry.ByName(strings.ToLower(strings.TrimSpace(supplierHint))); hinted != nil {
		candidates = []connector.Connector{hinted}
	}

	var claimed connector.Connector
	var result *connector.WebhookResult
	for _, conn := range candidates {
		normalized, err := conn.NormalizeWebhook(body)
		if err != nil {
			if errors.Is(err, connector.ErrNotMine) {
				continue
			}
			logger.Warnw("webhook_normalize_failed", "supplier", conn.Name(), "error", err)
			return err
		}
		claimed = conn
		result = normalized
		break
	}
	if claimed == nil {
		logger.Warnw("webhook_unclaimed", "supplier_hint", supplierHint, "body_len", len(body))
		return ErrWebhookUnclaimed
	}

	if err := claimed.VerifyWebhook(headers, body); err != nil {
		logger.Warnw("webhook_signature_invalid", "supplier", claimed.Name(), "external_order_id", result.ExternalOrderID)
		return err
	}
	return s.applyStatus(ctx, claimed.Name(), result, body)
}

func (s *ReconcilerService) applyStatus(ctx context.Context, supplier string, result *connector.WebhookResult, rawPayload []byte) error {
	supplierOrder, err := s.supplierRepo.GetByExternalOrderID(supplier, result.ExternalOrderID)
	if err != nil {
		return err
	}
	if supplierOrder == nil {
		return s.bufferEvent(ctx, supplier, result.ExternalOrderID, rawPayload)
	}
	return s.applyToSupplierOrder(supplierOrder, result)
}

// bufferEvent 缓冲提前到达的回调（提交应答尚未落库的竞态窗口）
func (s *ReconcilerService) bufferEvent(ctx context.Context, supplier, externalOrderID string, rawPayload []byte) error {
	// 同一报文的重复投递只缓冲一次
	digest := sha1.Sum(append([]byte(supplier+"|"), rawPayload...))
	seenKey := "webhook:seen:" + hex.EncodeToString(digest[:])
	if acquired, err := cache.SetNX(ctx, seenKey, "1", webhookSeenTTL); err == nil && !acquired {
		logger.Debugw("webhook_buffer_duplicate", "supplier", supplier, "external_order_id", externalOrderID)
		return nil
	}

	event := &models.WebhookEvent{
		EventNo:         uuid.NewString(),
		Supplier:        supplier,
		ExternalOrderID: externalOrderID,
		RawPayload:      string(rawPayload),
		Status:          constants.WebhookEventStatusReceived,
	}
	if err := s.webhookRepo.Create(event); err != nil {
		return err
	}
	logger.Infow("webhook_buffered",
		"event_no", event.EventNo,
		"supplier", supplier,
		"external_order_id", externalOrderID,
	)
	delay := time.Duration(s.cfg.WebhookRematchDelaySecs) * time.Second
	if err := s.queueClient.EnqueueWebhookRematch(queue.WebhookRematchPayload{EventID: event.ID}, delay); err != nil {
		logger.Errorw("webhook_rematch_enqueue_failed", "event_no", event.EventNo, "error", err)
	}
	return nil
}

// RematchEvent 重试缓冲事件的匹配。超过尝试上限后丢弃并告警。
func (s *ReconcilerService) RematchEvent(eventID uint) error {
	event, err := s.webhookRepo.GetByID(eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return ErrWebhookEventNotFound
	}
	if event.Status != constants.WebhookEventStatusReceived {
		return nil
	}

	conn := s.registry.ByName(event.Supplier)
	if conn == nil {
		return s.discardEvent(event, "connector missing")
	}
	result, err := conn.NormalizeWebhook([]byte(event.RawPayload))
	if err != nil {
		return s.discardEvent(event, err.Error())
	}

	supplierOrder, err := s.supplierRepo.GetByExternalOrderID(event.Supplier, result.ExternalOrderID)
	if err != nil {
		return err
	}
	if supplierOrder != nil {
		if err := s.applyToSupplierOrder(supplierOrder, result); err != nil {
			return err
		}
		return s.webhookRepo.Update(event.ID, map[string]interface{}{
			"status": constants.WebhookEventStatusMatched,
		})
	}

	attempts := event.Attempts + 1
	maxAttempts := s.cfg.WebhookRematchAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultWebhookRematchAttempts
	}
	if attempts >= maxAttempts {
		return s.discardEvent(event, "no matching supplier order")
	}
	if err := s.webhookRepo.Update(event.ID, map[string]interface{}{"attempts": attempts}); err != nil {
		return err
	}
	delay := time.Duration(s.cfg.WebhookRematchDelaySecs) * time.Second * time.Duration(attempts+1)
	if err := s.queueClient.EnqueueWebhookRematch(queue.WebhookRematchPayload{EventID: event.ID}, delay); err != nil {
		logger.Errorw("webhook_rematch_enqueue_failed", "event_no", event.EventNo, "error", err)
	}
	return nil
}

func (s *ReconcilerService) discardEvent(event *models.WebhookEvent, reason string) error {
	logger.Warnw("webhook_discarded",
		"event_no", event.EventNo,
		"supplier", event.Supplier,
		"external_order_id", event.ExternalOrderID,
		"attempts", event.Attempts,
		"reason", reason,
	)
	return s.webhookRepo.Update(event.ID, map[string]interface{}{
		"status":   constants.WebhookEventStatusDiscarded,
		"attempts": event.Attempts + 1,
	})
}

// applyToSupplierOrder 单调推进供应商订单与履约项。
// 流水永远追加；乱序或重复回执只记流水不迁移。
func (s *ReconcilerService) applyToSupplierOrder(supplierOrder *models.SupplierOrder, result *connector.WebhookResult) error {
	item, err := s.orderRepo.GetItem(supplierOrder.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	order, err := s.orderRepo.GetByID(item.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}

	var advances bool
	var fromStatus string
	var logs []*models.NotificationLog
	err = withAggregateRetry(func(tx *gorm.DB) error {
		logs = logs[:0]
		supplierTx := s.supplierRepo.WithTx(tx)
		orderTx := s.orderRepo.WithTx(tx)

		// 单调守卫必须基于事务内的最新快照：
		// 并发回调各自读到旧状态时，后提交者不得凭旧快照回退
		current, err := supplierTx.GetByItemID(supplierOrder.ItemID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrSupplierOrderNotFound
		}
		currentItem, err := orderTx.GetItem(item.ID)
		if err != nil {
			return err
		}
		if currentItem == nil {
			return ErrItemNotFound
		}
		fromStatus = current.Status
		advances = supplierStatusAdvances(current.Status, result.NormalizedStatus)

		now := time.Now()
		if err := supplierTx.AppendStatusLog(&models.SupplierStatusLog{
			SupplierOrderID:  current.ID,
			RawStatus:        result.RawStatus,
			NormalizedStatus: result.NormalizedStatus,
			ObservedAt:       now,
		}); err != nil {
			return err
		}
		if !advances {
			return nil
		}

		updates := map[string]interface{}{"status": result.NormalizedStatus}
		switch result.NormalizedStatus {
		case constants.SupplierOrderStatusShipped:
			updates["shipped_at"] = now
		case constants.SupplierOrderStatusDelivered:
			updates["delivered_at"] = now
		}
		if result.Tracking != nil {
			updates["shipping_carrier"] = result.Tracking.Carrier
			updates["tracking_number"] = result.Tracking.Number
			updates["tracking_url"] = result.Tracking.URL
		}
		if err := supplierTx.Update(current.ID, updates); err != nil {
			return err
		}

		itemStatus := itemStatusForSupplier(result.NormalizedStatus)
		if itemStatus != "" && !isItemTerminal(currentItem.Status) {
			itemUpdates := map[string]interface{}{"status": itemStatus}
			if itemStatus == constants.ItemStatusFailed || itemStatus == constants.ItemStatusCancelled {
				itemUpdates["last_error"] = truncateReason("supplier status " + result.RawStatus)
			}
			if err := orderTx.UpdateItem(item.ID, itemUpdates); err != nil {
				return err
			}

			log, err := s.emitTransitionNotificationInTx(tx, order, item, itemStatus, result)
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

	if advances {
		logger.Infow("supplier_status_advanced",
			"order_no", order.OrderNo,
			"item_id", item.ID,
			"supplier", supplierOrder.SupplierName,
			"from", fromStatus,
			"to", result.NormalizedStatus,
		)
		if err := cache.Del(context.Background(), buildOrderCacheKey(order.OrderNo)); err != nil {
			logger.Debugw("order_cache_del_failed", "order_no", order.OrderNo, "error", err)
		}
		s.notificationSvc.DispatchAfterCommit(logs...)
	} else {
		logger.Debugw("supplier_status_stale",
			"order_no", order.OrderNo,
			"item_id", item.ID,
			"current", fromStatus,
			"incoming", result.NormalizedStatus,
		)
	}
	return nil
}

func (s *ReconcilerService) emitTransitionNotificationInTx(tx *gorm.DB, order *models.FulfillmentOrder, item *models.FulfillmentItem, itemStatus string, result *connector.WebhookResult) (*models.NotificationLog, error) {
	vars := map[string]string{
		"order_no":   order.OrderNo,
		"item_title": titleForLocale(item.TitleJSON, order.Locale),
	}
	var emailType string
	switch itemStatus {
	case constants.ItemStatusShipped:
		emailType = constants.EmailTypeOrderShipped
		if result.Tracking != nil {
			vars["carrier"] = result.Tracking.Carrier
			vars["tracking_number"] = result.Tracking.Number
			vars["tracking_url"] = result.Tracking.URL
		}
	case constants.ItemStatusDelivered:
		emailType = constants.EmailTypeOrderDelivered
	case constants.ItemStatusFailed, constants.ItemStatusCancelled:
		emailType = constants.EmailTypeOrderFailed
		vars["reason"] = fmt.Sprintf("supplier status %s", result.RawStatus)
	default:
		return nil, nil
	}
	return s.notificationSvc.EmitInTx(tx, NotificationInput{
		OrderID:   order.ID,
		EmailType: emailType,
		DedupeKey: fmt.Sprintf("item:%d", item.ID),
		Recipient: order.UserEmail,
		Locale:    order.Locale,
		Vars:      vars,
	})
}
