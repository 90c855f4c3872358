package queue

import (
	"encoding/json"

	"github.com/kecheng-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskItemSubmit 履约项提交任务
	TaskItemSubmit = constants.TaskItemSubmit
	// TaskNotificationEmail 通知邮件发送任务
	TaskNotificationEmail = constants.TaskNotificationEmail
	// TaskWebhookRematch 未匹配回调重配任务
	TaskWebhookRematch = constants.TaskWebhookRematch
)

// ItemSubmitPayload 履约项提交任务载荷
type ItemSubmitPayload struct {
	OrderID uint `json:"order_id"`
	ItemID  uint `json:"item_id"`
}

// NotificationEmailPayload 通知邮件任务载荷
type NotificationEmailPayload struct {
	NotificationLogID uint `json:"notification_log_id"`
}

// WebhookRematchPayload 回调重配任务载荷
type WebhookRematchPayload struct {
	EventID uint `json:"event_id"`
}

// NewItemSubmitTask 创建履约项提交任务
func NewItemSubmitTask(payload ItemSubmitPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskItemSubmit, body), nil
}

// NewNotificationEmailTask 创建通知邮件任务
func NewNotificationEmailTask(payload NotificationEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationEmail, body), nil
}

// NewWebhookRematchTask 创建回调重配任务
func NewWebhookRematchTask(payload WebhookRematchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookRematch, body), nil
}
