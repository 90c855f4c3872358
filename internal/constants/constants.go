package constants

// 履约单聚合状态常量（纯推导，不直接写入）
const (
	AggregateStatusProcessing         = "processing"
	AggregateStatusPartiallyFulfilled = "partially_fulfilled"
	AggregateStatusFulfilled          = "fulfilled"
	AggregateStatusFailed             = "failed"
)

// 履约项类型常量
const (
	ItemKindDigitalCourse  = "digital_course"
	ItemKindSubscription   = "subscription"
	ItemKindPodPrism       = "pod_prism"
	ItemKindPodInkwell     = "pod_inkwell"
	ItemKindDropship       = "dropship"
	ItemKindOwnedInventory = "owned_inventory"
)

// 履约项状态常量
const (
	ItemStatusQueued          = "queued"
	ItemStatusSubmitting      = "submitting"
	ItemStatusPendingSupplier = "pending_supplier"
	ItemStatusFulfilled       = "fulfilled"
	ItemStatusShipped         = "shipped"
	ItemStatusDelivered       = "delivered"
	ItemStatusFailed          = "failed"
	ItemStatusCancelled       = "cancelled"
)

// 供应商名称常量
const (
	SupplierPrismPrint = "prismprint"
	SupplierInkwell    = "inkwell"
	SupplierDropship   = "dropship"
	SupplierWarehouse  = "warehouse"
	SupplierDigital    = "digital"
)

// 供应商订单状态常量
const (
	SupplierOrderStatusCreated   = "created"
	SupplierOrderStatusSubmitted = "submitted"
	SupplierOrderStatusAccepted  = "accepted"
	SupplierOrderStatusRejected  = "rejected"
	SupplierOrderStatusShipped   = "shipped"
	SupplierOrderStatusDelivered = "delivered"
	SupplierOrderStatusCancelled = "cancelled"
)

// 数字交付类型常量
const (
	DigitalDeliveryTypeCourseAccess = "course_access"
	DigitalDeliveryTypeSubscription = "subscription"
	DigitalDeliveryTypeDownload     = "download"
)

// 通知邮件类型常量
const (
	EmailTypeOrderConfirmed      = "order_confirmed"
	EmailTypeCourseAccess        = "course_access"
	EmailTypeSubscriptionActive  = "subscription_active"
	EmailTypeItemFulfilled       = "item_fulfilled"
	EmailTypeOrderShipped        = "order_shipped"
	EmailTypeOrderDelivered      = "order_delivered"
	EmailTypeOrderFailed         = "order_failed"
	EmailTypeDropshipConfirm     = "dropship_manual_confirmation"
	EmailTypeInventoryManualShip = "inventory_manual_ship"
)

// Webhook 事件状态常量
const (
	WebhookEventStatusReceived  = "received"
	WebhookEventStatusMatched   = "matched"
	WebhookEventStatusDiscarded = "discarded"
)

// 队列常量
const (
	QueueDefault          = "default"
	TaskItemSubmit        = "fulfillment:item_submit"
	TaskNotificationEmail = "fulfillment:notification_email"
	TaskWebhookRematch    = "webhook:rematch"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "kc"
)

// 站点语言常量
const (
	LocaleZhCN = "zh-CN"
	LocaleEnUS = "en-US"
)

// 币种常量
const (
	SiteCurrencyDefault = "CNY"
)

// 履约调度默认值常量
const (
	DefaultMaxSubmitAttempts        = 5
	DefaultWebhookRematchAttempts   = 3
	DefaultManualConfirmRemindHours = 48
)
