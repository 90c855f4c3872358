package service

import "errors"

// 服务层哨兵错误。处理器与队列消费者通过 errors.Is 区分可重试与终态失败。
var (
	ErrOrderNotFound         = errors.New("fulfillment order not found")
	ErrItemNotFound          = errors.New("fulfillment item not found")
	ErrIntakeInvalid         = errors.New("intake payload invalid")
	ErrKindUnknown           = errors.New("item kind unknown")
	ErrItemStateInvalid      = errors.New("item state does not allow this operation")
	ErrVersionConflict       = errors.New("aggregate version conflict")
	ErrConnectorMissing      = errors.New("no connector registered for item kind")
	ErrManualConfirmInvalid  = errors.New("item does not await manual confirmation")
	ErrSupplierOrderNotFound = errors.New("supplier order not found")
	ErrWebhookEventNotFound  = errors.New("webhook event not found")
	ErrWebhookUnclaimed      = errors.New("webhook payload claimed by no connector")
	ErrNotificationNotFound  = errors.New("notification log not found")

	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email address")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")
)
