package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupRepositoryDB 为每个测试建独立的内存数据库
func setupRepositoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.FulfillmentOrder{},
		&models.FulfillmentItem{},
		&models.SupplierOrder{},
		&models.SupplierStatusLog{},
		&models.DigitalDelivery{},
		&models.Entitlement{},
		&models.NotificationLog{},
		&models.WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedOrder(t *testing.T, repo *GormFulfillmentOrderRepository, orderNo, email string, items ...models.FulfillmentItem) *models.FulfillmentOrder {
	t.Helper()
	if len(items) == 0 {
		items = []models.FulfillmentItem{
			{
				Kind:       constants.ItemKindDigitalCourse,
				ProductRef: "course:default",
				TitleJSON:  models.JSON{"zh-CN": "默认课程"},
				Quantity:   1,
				UnitPrice:  models.NewMoneyFromDecimal(decimal.NewFromInt(99)),
				Status:     constants.ItemStatusQueued,
			},
		}
	}
	order := &models.FulfillmentOrder{
		OrderNo:         orderNo,
		PaymentID:       "pay-" + orderNo,
		UserEmail:       email,
		Locale:          constants.LocaleZhCN,
		AggregateStatus: constants.AggregateStatusProcessing,
	}
	if err := repo.Create(order, items); err != nil {
		t.Fatalf("seed order %s failed: %v", orderNo, err)
	}
	return order
}

func TestOrderRepositoryGetByOrderNo(t *testing.T) {
	repo := NewFulfillmentOrderRepository(setupRepositoryDB(t))
	seeded := seedOrder(t, repo, "ORD-GET-1", "a@example.com")

	got, err := repo.GetByOrderNo("ORD-GET-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.ID != seeded.ID || len(got.Items) != 1 {
		t.Fatalf("order mismatch: %+v", got)
	}

	missing, err := repo.GetByOrderNo("ORD-NOPE")
	if err != nil || missing != nil {
		t.Fatalf("missing order: got %v err %v, want nil nil", missing, err)
	}
}

func TestUpdateAggregateStatusVersionGuard(t *testing.T) {
	repo := NewFulfillmentOrderRepository(setupRepositoryDB(t))
	order := seedOrder(t, repo, "ORD-CAS-1", "a@example.com")

	ok, err := repo.UpdateAggregateStatus(order.ID, 0, constants.AggregateStatusPartiallyFulfilled)
	if err != nil || !ok {
		t.Fatalf("first cas: ok=%v err=%v", ok, err)
	}

	// 旧版本号不再命中
	ok, err = repo.UpdateAggregateStatus(order.ID, 0, constants.AggregateStatusFulfilled)
	if err != nil {
		t.Fatalf("stale cas errored: %v", err)
	}
	if ok {
		t.Fatal("stale version must not win")
	}

	fresh, _ := repo.GetByID(order.ID)
	if fresh.AggregateStatus != constants.AggregateStatusPartiallyFulfilled {
		t.Fatalf("aggregate = %q", fresh.AggregateStatus)
	}
	if fresh.Version != 1 {
		t.Fatalf("version = %d, want 1", fresh.Version)
	}

	// 新版本号继续推进
	ok, err = repo.UpdateAggregateStatus(order.ID, 1, constants.AggregateStatusFulfilled)
	if err != nil || !ok {
		t.Fatalf("second cas: ok=%v err=%v", ok, err)
	}
}

func TestOrderListFilters(t *testing.T) {
	repo := NewFulfillmentOrderRepository(setupRepositoryDB(t))
	seedOrder(t, repo, "ORD-LIST-1", "alice@example.com", models.FulfillmentItem{
		Kind:       constants.ItemKindPodPrism,
		ProductRef: "prism:POSTER-STARRY",
		TitleJSON:  models.JSON{"zh-CN": "星空海报", "en-US": "Starry Poster"},
		Quantity:   1,
		UnitPrice:  models.NewMoneyFromDecimal(decimal.NewFromInt(89)),
		Status:     constants.ItemStatusQueued,
	})
	seedOrder(t, repo, "ORD-LIST-2", "bob@example.com")

	// 按邮箱过滤
	rows, total, err := repo.List(OrderListFilter{Page: 1, PageSize: 10, UserEmail: "alice@example.com"})
	if err != nil || total != 1 || rows[0].OrderNo != "ORD-LIST-1" {
		t.Fatalf("email filter: total=%d err=%v", total, err)
	}

	// 关键词命中订单号
	_, total, err = repo.List(OrderListFilter{Page: 1, PageSize: 10, Keyword: "ORD-LIST-2"})
	if err != nil || total != 1 {
		t.Fatalf("order_no keyword: total=%d err=%v", total, err)
	}

	// 关键词命中多语言标题
	_, total, err = repo.List(OrderListFilter{Page: 1, PageSize: 10, Keyword: "星空"})
	if err != nil || total != 1 {
		t.Fatalf("zh title keyword: total=%d err=%v", total, err)
	}
	_, total, err = repo.List(OrderListFilter{Page: 1, PageSize: 10, Keyword: "Starry"})
	if err != nil || total != 1 {
		t.Fatalf("en title keyword: total=%d err=%v", total, err)
	}
	_, total, err = repo.List(OrderListFilter{Page: 1, PageSize: 10, Keyword: "absent"})
	if err != nil || total != 0 {
		t.Fatalf("miss keyword: total=%d err=%v", total, err)
	}

	// 时间窗过滤
	future := time.Now().Add(time.Hour)
	_, total, err = repo.List(OrderListFilter{Page: 1, PageSize: 10, CreatedFrom: &future})
	if err != nil || total != 0 {
		t.Fatalf("created_from filter: total=%d err=%v", total, err)
	}
}

func TestSupplierOrderRepository(t *testing.T) {
	db := setupRepositoryDB(t)
	orderRepo := NewFulfillmentOrderRepository(db)
	order := seedOrder(t, orderRepo, "ORD-SUP-1", "a@example.com", models.FulfillmentItem{
		Kind:       constants.ItemKindDropship,
		ProductRef: "ds:gadget",
		Quantity:   1,
		Status:     constants.ItemStatusPendingSupplier,
	})
	itemID := order.Items[0].ID

	repo := NewSupplierOrderRepository(db)
	now := time.Now()
	supplierOrder := &models.SupplierOrder{
		ItemID:                   itemID,
		SupplierName:             constants.SupplierDropship,
		ExternalOrderID:          "EXT-SUP-1",
		Status:                   constants.SupplierOrderStatusAccepted,
		ManualConfirmationNeeded: true,
		SubmittedAt:              &now,
	}
	if err := repo.Create(supplierOrder); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byItem, err := repo.GetByItemID(itemID)
	if err != nil || byItem == nil || byItem.ID != supplierOrder.ID {
		t.Fatalf("get by item: %+v err=%v", byItem, err)
	}
	byExternal, err := repo.GetByExternalOrderID(constants.SupplierDropship, "EXT-SUP-1")
	if err != nil || byExternal == nil {
		t.Fatalf("get by external: %+v err=%v", byExternal, err)
	}
	// 空 externalOrderId 永不匹配（人工模式供应商单没有外部单号）
	none, err := repo.GetByExternalOrderID(constants.SupplierDropship, "")
	if err != nil || none != nil {
		t.Fatalf("empty external id should return nil, got %+v err=%v", none, err)
	}

	// 超过时限的人工确认单可被提醒扫描捞出
	pending, err := repo.ListManualPending(time.Now().Add(time.Minute))
	if err != nil || len(pending) != 1 {
		t.Fatalf("manual pending: %d err=%v", len(pending), err)
	}
	pending, err = repo.ListManualPending(now.Add(-time.Hour))
	if err != nil || len(pending) != 0 {
		t.Fatalf("manual pending before submit: %d err=%v", len(pending), err)
	}

	// 发货后不再出现在待确认列表
	if err := repo.Update(supplierOrder.ID, map[string]interface{}{"status": constants.SupplierOrderStatusShipped}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	pending, _ = repo.ListManualPending(time.Now().Add(time.Minute))
	if len(pending) != 0 {
		t.Fatalf("shipped order still pending: %d", len(pending))
	}
}

func TestNotificationLogRepositoryDedupeIndex(t *testing.T) {
	db := setupRepositoryDB(t)
	repo := NewNotificationLogRepository(db)

	log := &models.NotificationLog{
		OrderID:   1,
		EmailType: constants.EmailTypeOrderConfirmed,
		DedupeKey: "order",
		Recipient: "a@example.com",
		Subject:   "订单已确认",
	}
	if err := repo.Create(log); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dup := &models.NotificationLog{
		OrderID:   1,
		EmailType: constants.EmailTypeOrderConfirmed,
		DedupeKey: "order",
		Recipient: "a@example.com",
	}
	if err := repo.Create(dup); err == nil {
		t.Fatal("duplicate dedupe key must hit the unique index")
	}

	found, err := repo.GetByDedupe(1, constants.EmailTypeOrderConfirmed, "order")
	if err != nil || found == nil || found.ID != log.ID {
		t.Fatalf("get by dedupe: %+v err=%v", found, err)
	}

	sentAt := time.Now()
	if err := repo.MarkSent(log.ID, sentAt); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	fresh, _ := repo.GetByID(log.ID)
	if fresh.SentAt == nil {
		t.Fatal("sent_at not persisted")
	}
}

func TestWebhookEventRepositoryList(t *testing.T) {
	db := setupRepositoryDB(t)
	repo := NewWebhookEventRepository(db)

	for i, status := range []string{
		constants.WebhookEventStatusReceived,
		constants.WebhookEventStatusReceived,
		constants.WebhookEventStatusDiscarded,
	} {
		event := &models.WebhookEvent{
			EventNo:         fmt.Sprintf("evt-%d", i),
			Supplier:        constants.SupplierDropship,
			ExternalOrderID: fmt.Sprintf("EXT-%d", i),
			Status:          status,
		}
		if err := repo.Create(event); err != nil {
			t.Fatalf("create event failed: %v", err)
		}
	}

	_, total, err := repo.List(WebhookEventListFilter{Page: 1, PageSize: 10, Status: constants.WebhookEventStatusReceived})
	if err != nil || total != 2 {
		t.Fatalf("received filter: total=%d err=%v", total, err)
	}
	_, total, err = repo.List(WebhookEventListFilter{Page: 1, PageSize: 10, Supplier: "inkwell"})
	if err != nil || total != 0 {
		t.Fatalf("supplier filter: total=%d err=%v", total, err)
	}

	event, err := repo.GetByEventNo("evt-2")
	if err != nil || event == nil || event.Status != constants.WebhookEventStatusDiscarded {
		t.Fatalf("get by event no: %+v err=%v", event, err)
	}
}
