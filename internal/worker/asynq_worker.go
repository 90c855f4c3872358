package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/provider"
	"github.com/kecheng-next/internal/queue"
	"github.com/kecheng-next/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskItemSubmit, c.handleItemSubmit)
	mux.HandleFunc(queue.TaskNotificationEmail, c.handleNotificationEmail)
	mux.HandleFunc(queue.TaskWebhookRematch, c.handleWebhookRematch)
}

func (c *Consumer) handleItemSubmit(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_item_submit_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.ItemSubmitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_item_submit_unmarshal_failed", "error", err)
		return err
	}
	if payload.ItemID == 0 {
		logger.Debugw("worker_item_submit_skip_invalid_payload", "item_id", payload.ItemID)
		return nil
	}
	if c.DispatcherService == nil {
		logger.Warnw("worker_item_submit_skip_dispatcher_nil", "item_id", payload.ItemID)
		return nil
	}
	if err := c.DispatcherService.SubmitItem(ctx, payload.ItemID); err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			logger.Debugw("worker_item_submit_skip_item_not_found", "item_id", payload.ItemID)
			return nil
		case errors.Is(err, service.ErrOrderNotFound):
			logger.Debugw("worker_item_submit_skip_order_not_found", "item_id", payload.ItemID)
			return nil
		default:
			logger.Warnw("worker_item_submit_failed", "item_id", payload.ItemID, "error", err)
			return err
		}
	}
	return nil
}

func (c *Consumer) handleNotificationEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_notification_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.NotificationEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_notification_email_unmarshal_failed", "error", err)
		return err
	}
	if payload.NotificationLogID == 0 {
		logger.Debugw("worker_notification_email_skip_invalid_payload", "notification_log_id", payload.NotificationLogID)
		return nil
	}
	if c.NotificationService == nil {
		logger.Warnw("worker_notification_email_skip_service_nil", "notification_log_id", payload.NotificationLogID)
		return nil
	}
	if err := c.NotificationService.SendByID(payload.NotificationLogID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotificationNotFound):
			logger.Debugw("worker_notification_email_skip_not_found", "notification_log_id", payload.NotificationLogID)
			return nil
		case errors.Is(err, service.ErrEmailServiceDisabled):
			logger.Debugw("worker_notification_email_skip_disabled", "notification_log_id", payload.NotificationLogID)
			return nil
		case errors.Is(err, service.ErrEmailServiceNotConfigured):
			logger.Warnw("worker_notification_email_skip_not_configured", "notification_log_id", payload.NotificationLogID)
			return nil
		case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrEmailRecipientRejected):
			// 收件人本身有问题，重试也不会成功
			logger.Warnw("worker_notification_email_skip_bad_recipient", "notification_log_id", payload.NotificationLogID, "error", err)
			return nil
		default:
			logger.Warnw("worker_notification_email_send_failed", "notification_log_id", payload.NotificationLogID, "error", err)
			return err
		}
	}
	return nil
}

func (c *Consumer) handleWebhookRematch(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_webhook_rematch_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.WebhookRematchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_webhook_rematch_unmarshal_failed", "error", err)
		return err
	}
	if payload.EventID == 0 {
		logger.Debugw("worker_webhook_rematch_skip_invalid_payload", "event_id", payload.EventID)
		return nil
	}
	if c.ReconcilerService == nil {
		logger.Warnw("worker_webhook_rematch_skip_service_nil", "event_id", payload.EventID)
		return nil
	}
	if err := c.ReconcilerService.RematchEvent(payload.EventID); err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookEventNotFound):
			logger.Debugw("worker_webhook_rematch_skip_event_not_found", "event_id", payload.EventID)
			return nil
		case errors.Is(err, service.ErrItemNotFound), errors.Is(err, service.ErrOrderNotFound):
			logger.Warnw("worker_webhook_rematch_skip_orphan", "event_id", payload.EventID, "error", err)
			return nil
		default:
			logger.Warnw("worker_webhook_rematch_failed", "event_id", payload.EventID, "error", err)
			return err
		}
	}
	return nil
}
