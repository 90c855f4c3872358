package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/repository"
)

// statusPayload 测试用回调报文
type statusPayload struct {
	ExternalOrderID string `json:"external_order_id"`
	Status          string `json:"status"`
	Carrier         string `json:"carrier,omitempty"`
	TrackingNumber  string `json:"tracking_number,omitempty"`
}

func statusWebhookConnector(name string) *fakeConnector {
	return &fakeConnector{
		name: name,
		normalizeFn: func(body []byte) (*connector.WebhookResult, error) {
			var payload statusPayload
			if err := json.Unmarshal(body, &payload); err != nil || payload.ExternalOrderID == "" {
				return nil, connector.ErrNotMine
			}
			result := &connector.WebhookResult{
				ExternalOrderID:  payload.ExternalOrderID,
				RawStatus:        payload.Status,
				NormalizedStatus: payload.Status,
			}
			if payload.TrackingNumber != "" {
				result.Tracking = &connector.TrackingInfo{
					Carrier: payload.Carrier,
					Number:  payload.TrackingNumber,
				}
			}
			return result, nil
		},
	}
}

func marshalPayload(t *testing.T, payload statusPayload) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return body
}

// intakeSupplierItem 建一个已被供应商接受的履约项，返回订单与履约项 ID
func intakeSupplierItem(t *testing.T, fx *serviceFixture, orderNo string) (*models.FulfillmentOrder, uint) {
	t.Helper()
	order, err := fx.dispatcher.Intake(context.Background(), testIntakeInput(orderNo, testItemInput(constants.ItemKindDropship, "ds:gadget")))
	if err != nil {
		t.Fatalf("intake failed: %v", err)
	}
	return order, order.Items[0].ID
}

func acceptingRegistry(externalOrderID string) *connector.Registry {
	registry := connector.NewRegistry()
	conn := statusWebhookConnector(constants.SupplierDropship)
	conn.submitFn = func(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error) {
		return &connector.SubmitResult{Outcome: connector.OutcomeAccepted, ExternalOrderID: externalOrderID}, nil
	}
	registry.Register(conn, constants.ItemKindDropship)
	return registry
}

func TestHandleWebhookAdvancesStatus(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-SHIP-1"), defaultTestFulfillmentConfig())
	order, itemID := intakeSupplierItem(t, fx, "ORD-WH-1")

	body := marshalPayload(t, statusPayload{
		ExternalOrderID: "EXT-SHIP-1",
		Status:          "shipped",
		Carrier:         "YTO",
		TrackingNumber:  "YT9988",
	})
	if err := fx.reconciler.HandleWebhook(context.Background(), constants.SupplierDropship, http.Header{}, body); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	item, _ := fx.orderRepo.GetItem(itemID)
	if item.Status != constants.ItemStatusShipped {
		t.Fatalf("item status = %q, want shipped", item.Status)
	}
	if item.SupplierOrder.Status != constants.SupplierOrderStatusShipped {
		t.Fatalf("supplier status = %q, want shipped", item.SupplierOrder.Status)
	}
	if item.SupplierOrder.TrackingNumber != "YT9988" {
		t.Fatalf("tracking number = %q", item.SupplierOrder.TrackingNumber)
	}
	if item.SupplierOrder.ShippedAt == nil {
		t.Fatal("shipped_at not set")
	}
	mustNotification(t, fx, order.ID, constants.EmailTypeOrderShipped, fmt.Sprintf("item:%d", itemID))
}

func TestHandleWebhookOutOfOrderIsLoggedNotApplied(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-OOO-1"), defaultTestFulfillmentConfig())
	order, itemID := intakeSupplierItem(t, fx, "ORD-OOO-1")
	ctx := context.Background()

	// delivered 先到
	delivered := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-OOO-1", Status: "delivered"})
	if err := fx.reconciler.HandleWebhook(ctx, constants.SupplierDropship, http.Header{}, delivered); err != nil {
		t.Fatalf("delivered webhook failed: %v", err)
	}
	// shipped 迟到
	shipped := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-OOO-1", Status: "shipped"})
	if err := fx.reconciler.HandleWebhook(ctx, constants.SupplierDropship, http.Header{}, shipped); err != nil {
		t.Fatalf("late shipped webhook failed: %v", err)
	}

	item, _ := fx.orderRepo.GetItem(itemID)
	if item.Status != constants.ItemStatusDelivered {
		t.Fatalf("item status = %q, late shipped must not regress delivered", item.Status)
	}
	if item.SupplierOrder.Status != constants.SupplierOrderStatusDelivered {
		t.Fatalf("supplier status = %q, want delivered", item.SupplierOrder.Status)
	}

	// 迟到回执仍然要进流水
	var logCount int64
	models.DB.Model(&models.SupplierStatusLog{}).
		Where("supplier_order_id = ?", item.SupplierOrder.ID).
		Count(&logCount)
	if logCount != 2 {
		t.Fatalf("status log count = %d, want 2", logCount)
	}

	// 只发送达邮件，不再补发发货邮件
	if log, _ := fx.notifRepo.GetByDedupe(order.ID, constants.EmailTypeOrderShipped, fmt.Sprintf("item:%d", itemID)); log != nil {
		t.Fatal("order_shipped must not be emitted after delivered")
	}
	mustNotification(t, fx, order.ID, constants.EmailTypeOrderDelivered, fmt.Sprintf("item:%d", itemID))
}

// 两个回调并发处理时各自读到同一个旧快照，后提交者不得凭旧快照回退状态
func TestApplyStatusStaleSnapshotDoesNotRegress(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-RACE-1"), defaultTestFulfillmentConfig())
	order, itemID := intakeSupplierItem(t, fx, "ORD-RACE-1")

	// 两条回调在对方提交前各自读到 accepted
	first, err := fx.supplierRepo.GetByItemID(itemID)
	if err != nil || first == nil {
		t.Fatalf("load supplier order: %+v err=%v", first, err)
	}
	second, err := fx.supplierRepo.GetByItemID(itemID)
	if err != nil || second == nil {
		t.Fatalf("load supplier order again: %+v err=%v", second, err)
	}

	delivered := &connector.WebhookResult{
		ExternalOrderID:  "EXT-RACE-1",
		RawStatus:        "delivered",
		NormalizedStatus: constants.SupplierOrderStatusDelivered,
	}
	if err := fx.reconciler.applyToSupplierOrder(first, delivered); err != nil {
		t.Fatalf("delivered apply failed: %v", err)
	}

	shipped := &connector.WebhookResult{
		ExternalOrderID:  "EXT-RACE-1",
		RawStatus:        "shipped",
		NormalizedStatus: constants.SupplierOrderStatusShipped,
	}
	if err := fx.reconciler.applyToSupplierOrder(second, shipped); err != nil {
		t.Fatalf("stale shipped apply failed: %v", err)
	}

	item, _ := fx.orderRepo.GetItem(itemID)
	if item.SupplierOrder.Status != constants.SupplierOrderStatusDelivered {
		t.Fatalf("supplier status = %q, stale shipped must not regress delivered", item.SupplierOrder.Status)
	}
	if item.Status != constants.ItemStatusDelivered {
		t.Fatalf("item status = %q, want delivered", item.Status)
	}

	// 被挡下的回执仍然进流水
	var logCount int64
	models.DB.Model(&models.SupplierStatusLog{}).
		Where("supplier_order_id = ?", item.SupplierOrder.ID).
		Count(&logCount)
	if logCount != 2 {
		t.Fatalf("status log count = %d, want 2", logCount)
	}

	if log, _ := fx.notifRepo.GetByDedupe(order.ID, constants.EmailTypeOrderShipped, fmt.Sprintf("item:%d", itemID)); log != nil {
		t.Fatal("order_shipped must not be emitted after delivered")
	}
	mustNotification(t, fx, order.ID, constants.EmailTypeOrderDelivered, fmt.Sprintf("item:%d", itemID))
}

func TestHandleWebhookRejectedFailsItem(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-REJ-1"), defaultTestFulfillmentConfig())
	order, itemID := intakeSupplierItem(t, fx, "ORD-WREJ-1")

	body := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-REJ-1", Status: "rejected"})
	if err := fx.reconciler.HandleWebhook(context.Background(), constants.SupplierDropship, http.Header{}, body); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	item, _ := fx.orderRepo.GetItem(itemID)
	if item.Status != constants.ItemStatusFailed {
		t.Fatalf("item status = %q, want failed", item.Status)
	}
	if item.LastError == "" {
		t.Fatal("last_error should record supplier status")
	}
	mustNotification(t, fx, order.ID, constants.EmailTypeOrderFailed, fmt.Sprintf("item:%d", itemID))

	fresh, _ := fx.orderRepo.GetByID(order.ID)
	if fresh.AggregateStatus != constants.AggregateStatusFailed {
		t.Fatalf("aggregate = %q, want failed", fresh.AggregateStatus)
	}
}

func TestHandleWebhookUnclaimed(t *testing.T) {
	registry := connector.NewRegistry()
	registry.Register(&fakeConnector{name: constants.SupplierPrismPrint}, constants.ItemKindPodPrism)
	fx := newServiceFixture(t, registry, defaultTestFulfillmentConfig())

	err := fx.reconciler.HandleWebhook(context.Background(), "", http.Header{}, []byte(`{"alien":"payload"}`))
	if !errors.Is(err, ErrWebhookUnclaimed) {
		t.Fatalf("err = %v, want ErrWebhookUnclaimed", err)
	}
}

func TestHandleWebhookSignatureInvalid(t *testing.T) {
	registry := connector.NewRegistry()
	conn := statusWebhookConnector(constants.SupplierDropship)
	conn.verifyErr = connector.ErrSignatureInvalid
	registry.Register(conn, constants.ItemKindDropship)
	fx := newServiceFixture(t, registry, defaultTestFulfillmentConfig())

	body := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-SIG-1", Status: "shipped"})
	err := fx.reconciler.HandleWebhook(context.Background(), constants.SupplierDropship, http.Header{}, body)
	if !errors.Is(err, connector.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestHandleWebhookBuffersUnmatchedThenRematches(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-LATE-1"), defaultTestFulfillmentConfig())
	ctx := context.Background()

	// 供应商单尚不存在，回调先到：应缓冲
	body := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-LATE-1", Status: "shipped"})
	if err := fx.reconciler.HandleWebhook(ctx, constants.SupplierDropship, http.Header{}, body); err != nil {
		t.Fatalf("early webhook failed: %v", err)
	}

	events, total, err := fx.webhookRepo.List(listAllWebhookEvents())
	if err != nil || total != 1 {
		t.Fatalf("buffered event count = %d err = %v, want 1", total, err)
	}
	event := events[0]
	if event.Status != constants.WebhookEventStatusReceived {
		t.Fatalf("event status = %q, want received", event.Status)
	}
	if event.Supplier != constants.SupplierDropship || event.ExternalOrderID != "EXT-LATE-1" {
		t.Fatalf("event fields mismatch: %+v", event)
	}

	// 供应商单落库后重配应命中并推进状态
	order, itemID := intakeSupplierItem(t, fx, "ORD-LATE-1")
	if err := fx.reconciler.RematchEvent(event.ID); err != nil {
		t.Fatalf("rematch failed: %v", err)
	}

	matched, _ := fx.webhookRepo.GetByID(event.ID)
	if matched.Status != constants.WebhookEventStatusMatched {
		t.Fatalf("event status = %q, want matched", matched.Status)
	}
	item, _ := fx.orderRepo.GetItem(itemID)
	if item.Status != constants.ItemStatusShipped {
		t.Fatalf("item status = %q, want shipped", item.Status)
	}
	mustNotification(t, fx, order.ID, constants.EmailTypeOrderShipped, fmt.Sprintf("item:%d", itemID))

	// 已匹配事件重复重配是空操作
	if err := fx.reconciler.RematchEvent(event.ID); err != nil {
		t.Fatalf("rematch of matched event failed: %v", err)
	}
}

func TestRematchEventDiscardsAfterAttemptsExhausted(t *testing.T) {
	cfg := defaultTestFulfillmentConfig()
	cfg.WebhookRematchAttempts = 2
	fx := newServiceFixture(t, acceptingRegistry("EXT-NEVER"), cfg)
	ctx := context.Background()

	body := marshalPayload(t, statusPayload{ExternalOrderID: "EXT-ORPHAN", Status: "shipped"})
	if err := fx.reconciler.HandleWebhook(ctx, constants.SupplierDropship, http.Header{}, body); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	events, _, _ := fx.webhookRepo.List(listAllWebhookEvents())
	eventID := events[0].ID

	// 第一次重配未命中：计数并保持 received
	if err := fx.reconciler.RematchEvent(eventID); err != nil {
		t.Fatalf("first rematch failed: %v", err)
	}
	event, _ := fx.webhookRepo.GetByID(eventID)
	if event.Status != constants.WebhookEventStatusReceived || event.Attempts != 1 {
		t.Fatalf("after first rematch: status=%q attempts=%d", event.Status, event.Attempts)
	}

	// 第二次到达上限：丢弃
	if err := fx.reconciler.RematchEvent(eventID); err != nil {
		t.Fatalf("second rematch failed: %v", err)
	}
	event, _ = fx.webhookRepo.GetByID(eventID)
	if event.Status != constants.WebhookEventStatusDiscarded {
		t.Fatalf("event status = %q, want discarded", event.Status)
	}
}

func TestRematchEventDiscardsWhenConnectorMissing(t *testing.T) {
	fx := newServiceFixture(t, acceptingRegistry("EXT-GONE"), defaultTestFulfillmentConfig())

	event := &models.WebhookEvent{
		EventNo:         "evt-missing-conn",
		Supplier:        "retired-supplier",
		ExternalOrderID: "EXT-GONE",
		RawPayload:      `{"external_order_id":"EXT-GONE","status":"shipped"}`,
		Status:          constants.WebhookEventStatusReceived,
	}
	if err := fx.webhookRepo.Create(event); err != nil {
		t.Fatalf("create event failed: %v", err)
	}
	if err := fx.reconciler.RematchEvent(event.ID); err != nil {
		t.Fatalf("rematch failed: %v", err)
	}
	got, _ := fx.webhookRepo.GetByID(event.ID)
	if got.Status != constants.WebhookEventStatusDiscarded {
		t.Fatalf("event status = %q, want discarded", got.Status)
	}
}

func TestRematchEventNotFound(t *testing.T) {
	fx := newServiceFixture(t, nil, defaultTestFulfillmentConfig())
	if err := fx.reconciler.RematchEvent(424242); !errors.Is(err, ErrWebhookEventNotFound) {
		t.Fatalf("err = %v, want ErrWebhookEventNotFound", err)
	}
}

func listAllWebhookEvents() repository.WebhookEventListFilter {
	return repository.WebhookEventListFilter{Page: 1, PageSize: 50}
}
