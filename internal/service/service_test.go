package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/kecheng-next/internal/config"
	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/queue"
	"github.com/kecheng-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupServiceDB 为每个测试建独立的内存数据库并接到全局 models.DB 上
func setupServiceDB(t *testing.T) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	models.DB = db
	if err := models.AutoMigrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
}

type serviceFixture struct {
	orderRepo    *repository.GormFulfillmentOrderRepository
	supplierRepo *repository.GormSupplierOrderRepository
	notifRepo    *repository.GormNotificationLogRepository
	webhookRepo  *repository.GormWebhookEventRepository
	digitalRepo  *repository.GormDigitalDeliveryRepository
	entRepo      *repository.GormEntitlementRepository

	notifications *NotificationService
	digital       *DigitalDeliveryService
	dispatcher    *DispatcherService
	reconciler    *ReconcilerService
}

func defaultTestFulfillmentConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		MaxSubmitAttempts:        5,
		RetryBackoffBaseSeconds:  30,
		RetryBackoffMaxSeconds:   3600,
		WebhookRematchAttempts:   3,
		WebhookRematchDelaySecs:  1,
		ManualConfirmRemindHours: 48,
		SiteCurrency:             constants.SiteCurrencyDefault,
	}
}

// newServiceFixture 组装服务栈。队列与邮件均关闭：提交走同步路径，
// 通知只落库不实际发送。
func newServiceFixture(t *testing.T, registry *connector.Registry, cfg config.FulfillmentConfig) *serviceFixture {
	t.Helper()
	setupServiceDB(t)

	if registry == nil {
		registry = connector.NewRegistry()
	}
	queueClient, err := queue.NewClient(nil)
	if err != nil {
		t.Fatalf("new queue client failed: %v", err)
	}

	orderRepo := repository.NewFulfillmentOrderRepository(models.DB)
	supplierRepo := repository.NewSupplierOrderRepository(models.DB)
	notifRepo := repository.NewNotificationLogRepository(models.DB)
	webhookRepo := repository.NewWebhookEventRepository(models.DB)
	digitalRepo := repository.NewDigitalDeliveryRepository(models.DB)
	entRepo := repository.NewEntitlementRepository(models.DB)

	emailService := NewEmailService(&config.EmailConfig{Enabled: false})
	notifications := NewNotificationService(notifRepo, emailService, queueClient)
	digital := NewDigitalDeliveryService(digitalRepo, entRepo, nil, config.DigitalConfig{
		AccessSecret:       "test-access-secret-0123456789abcdef",
		AccessExpireHours:  24,
		CourseBaseURL:      "https://learn.example.com",
		MaterialsShareDays: 7,
	})
	dispatcher := NewDispatcherService(orderRepo, supplierRepo, notifications, digital, registry, queueClient, cfg, "ops@example.com")
	reconciler := NewReconcilerService(orderRepo, supplierRepo, webhookRepo, notifications, registry, queueClient, cfg)

	return &serviceFixture{
		orderRepo:     orderRepo,
		supplierRepo:  supplierRepo,
		notifRepo:     notifRepo,
		webhookRepo:   webhookRepo,
		digitalRepo:   digitalRepo,
		entRepo:       entRepo,
		notifications: notifications,
		digital:       digital,
		dispatcher:    dispatcher,
		reconciler:    reconciler,
	}
}

// fakeConnector 按需桩掉提交与回调行为的连接器
type fakeConnector struct {
	name        string
	submitFn    func(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error)
	verifyErr   error
	normalizeFn func(body []byte) (*connector.WebhookResult, error)
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Submit(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error) {
	if f.submitFn == nil {
		return &connector.SubmitResult{Outcome: connector.OutcomeAccepted, ExternalOrderID: "EXT-FAKE"}, nil
	}
	return f.submitFn(ctx, input)
}

func (f *fakeConnector) VerifyWebhook(headers http.Header, body []byte) error {
	return f.verifyErr
}

func (f *fakeConnector) NormalizeWebhook(body []byte) (*connector.WebhookResult, error) {
	if f.normalizeFn == nil {
		return nil, connector.ErrNotMine
	}
	return f.normalizeFn(body)
}

func testShippingAddress() models.ShippingAddress {
	return models.ShippingAddress{
		Name:        "王小明",
		Phone:       "13800000000",
		CountryCode: "CN",
		Province:    "浙江省",
		City:        "杭州市",
		AddressLine: "西湖区测试路 1 号",
		PostalCode:  "310000",
	}
}

func testIntakeInput(orderNo string, items ...IntakeItemInput) IntakeInput {
	return IntakeInput{
		OrderNo:   orderNo,
		PaymentID: "pay-" + orderNo,
		UserEmail: "buyer@example.com",
		Locale:    constants.LocaleZhCN,
		Items:     items,
	}
}

func testItemInput(kind, productRef string) IntakeItemInput {
	input := IntakeItemInput{
		KindHint:   kind,
		ProductRef: productRef,
		Title: models.JSON{
			"zh-CN": "测试商品",
			"en-US": "Test Product",
		},
		Quantity:  1,
		UnitPrice: models.NewMoneyFromDecimal(decimal.NewFromInt(100)),
	}
	if kindNeedsShipping(kind) {
		input.ShippingAddress = testShippingAddress()
	}
	return input
}

func mustNotification(t *testing.T, fx *serviceFixture, orderID uint, emailType, dedupeKey string) *models.NotificationLog {
	t.Helper()
	log, err := fx.notifRepo.GetByDedupe(orderID, emailType, dedupeKey)
	if err != nil {
		t.Fatalf("get notification %s/%s failed: %v", emailType, dedupeKey, err)
	}
	if log == nil {
		t.Fatalf("notification %s/%s not found for order %d", emailType, dedupeKey, orderID)
	}
	return log
}
