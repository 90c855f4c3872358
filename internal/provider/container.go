package provider

import (
	"context"

	"github.com/kecheng-next/internal/cache"
	"github.com/kecheng-next/internal/config"
	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/connector/dropship"
	"github.com/kecheng-next/internal/connector/inkwell"
	"github.com/kecheng-next/internal/connector/prismprint"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/queue"
	"github.com/kecheng-next/internal/repository"
	"github.com/kecheng-next/internal/service"
	"github.com/kecheng-next/internal/storage"

	"github.com/shopspring/decimal"
)

// Container 依赖注入容器
type Container struct {
	Config        *config.Config
	QueueClient   *queue.Client
	StorageClient *storage.Client
	Connectors    *connector.Registry

	// Repositories
	OrderRepo           repository.FulfillmentOrderRepository
	SupplierOrderRepo   repository.SupplierOrderRepository
	DigitalDeliveryRepo repository.DigitalDeliveryRepository
	EntitlementRepo     repository.EntitlementRepository
	NotificationRepo    repository.NotificationLogRepository
	WebhookEventRepo    repository.WebhookEventRepository

	// Services
	EmailService        *service.EmailService
	NotificationService *service.NotificationService
	DigitalService      *service.DigitalDeliveryService
	DispatcherService   *service.DispatcherService
	ReconcilerService   *service.ReconcilerService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化对象存储与连接器
	c.initStorage()
	c.initConnectors()

	// 3. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.OrderRepo = repository.NewFulfillmentOrderRepository(db)
	c.SupplierOrderRepo = repository.NewSupplierOrderRepository(db)
	c.DigitalDeliveryRepo = repository.NewDigitalDeliveryRepository(db)
	c.EntitlementRepo = repository.NewEntitlementRepository(db)
	c.NotificationRepo = repository.NewNotificationLogRepository(db)
	c.WebhookEventRepo = repository.NewWebhookEventRepository(db)
}

func (c *Container) initStorage() {
	if !c.Config.Storage.Enabled {
		return
	}
	client, err := storage.NewClient(context.Background(), storage.S3Config{
		Region:    c.Config.Storage.Region,
		Bucket:    c.Config.Storage.Bucket,
		AccessKey: c.Config.Storage.AccessKey,
		SecretKey: c.Config.Storage.SecretKey,
		Endpoint:  c.Config.Storage.Endpoint,
	})
	if err != nil {
		// 资料分享是课程邮件的增强项，失败不阻断启动
		logger.Warnw("provider_init_storage_failed", "error", err)
		return
	}
	c.StorageClient = client
}

func (c *Container) initConnectors() {
	registry := connector.NewRegistry()

	registry.Register(prismprint.New(prismprint.Config{
		BaseURL:       c.Config.Suppliers.PrismPrint.BaseURL,
		APIKey:        c.Config.Suppliers.PrismPrint.APIKey,
		WebhookSecret: c.Config.Suppliers.PrismPrint.WebhookSecret,
		TimeoutMS:     c.Config.Suppliers.PrismPrint.TimeoutMS,
	}), constants.ItemKindPodPrism)

	rate, err := decimal.NewFromString(c.Config.Suppliers.Inkwell.USDExchangeRate)
	if err != nil || rate.IsZero() {
		logger.Warnw("provider_inkwell_exchange_rate_invalid", "raw", c.Config.Suppliers.Inkwell.USDExchangeRate)
		rate = decimal.NewFromFloat(7.20)
	}
	registry.Register(inkwell.New(inkwell.Config{
		BaseURL:         c.Config.Suppliers.Inkwell.BaseURL,
		MerchantID:      c.Config.Suppliers.Inkwell.MerchantID,
		MerchantKey:     c.Config.Suppliers.Inkwell.MerchantKey,
		TimeoutMS:       c.Config.Suppliers.Inkwell.TimeoutMS,
		USDExchangeRate: rate,
	}), constants.ItemKindPodInkwell)

	registry.Register(dropship.New(dropship.Config{
		BaseURL:   c.Config.Suppliers.Dropship.BaseURL,
		APIKey:    c.Config.Suppliers.Dropship.APIKey,
		TimeoutMS: c.Config.Suppliers.Dropship.TimeoutMS,
	}), constants.ItemKindDropship)

	c.Connectors = registry
}

func (c *Container) initServices() {
	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.NotificationService = service.NewNotificationService(c.NotificationRepo, c.EmailService, c.QueueClient)
	c.DigitalService = service.NewDigitalDeliveryService(c.DigitalDeliveryRepo, c.EntitlementRepo, c.StorageClient, c.Config.Digital)
	c.DispatcherService = service.NewDispatcherService(
		c.OrderRepo,
		c.SupplierOrderRepo,
		c.NotificationService,
		c.DigitalService,
		c.Connectors,
		c.QueueClient,
		c.Config.Fulfillment,
		c.Config.Email.OpsEmail,
	)
	c.ReconcilerService = service.NewReconcilerService(
		c.OrderRepo,
		c.SupplierOrderRepo,
		c.WebhookEventRepo,
		c.NotificationService,
		c.Connectors,
		c.QueueClient,
		c.Config.Fulfillment,
	)
}
