package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/queue"
	"github.com/kecheng-next/internal/repository"

	"gorm.io/gorm"
)

// NotificationInput 通知落库参数。DedupeKey 标识一次可见状态迁移，
// 同一 (order_id, email_type, dedupe_key) 只会落一条记录。
type NotificationInput struct {
	OrderID   uint
	EmailType string
	DedupeKey string
	Recipient string
	Locale    string
	Vars      map[string]string
}

// NotificationService 通知服务。落库与状态迁移同事务，实际发送走队列。
type NotificationService struct {
	notifRepo    repository.NotificationLogRepository
	emailService *EmailService
	queueClient  *queue.Client
}

// NewNotificationService 创建通知服务
func NewNotificationService(
	notifRepo repository.NotificationLogRepository,
	emailService *EmailService,
	queueClient *queue.Client,
) *NotificationService {
	return &NotificationService{
		notifRepo:    notifRepo,
		emailService: emailService,
		queueClient:  queueClient,
	}
}

// EmitInTx 在事务内落一条通知记录。已存在同键记录时返回 nil（幂等跳过）。
func (s *NotificationService) EmitInTx(tx *gorm.DB, input NotificationInput) (*models.NotificationLog, error) {
	if input.OrderID == 0 || input.EmailType == "" || input.DedupeKey == "" {
		return nil, ErrIntakeInvalid
	}
	repo := s.notifRepo.WithTx(tx)
	existing, err := repo.GetByDedupe(input.OrderID, input.EmailType, input.DedupeKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	subject, body := buildNotificationContent(input.EmailType, input.Locale, input.Vars)
	log := &models.NotificationLog{
		OrderID:   input.OrderID,
		EmailType: input.EmailType,
		DedupeKey: input.DedupeKey,
		Recipient: input.Recipient,
		Subject:   subject,
		Body:      body,
	}
	if err := repo.Create(log); err != nil {
		// 唯一索引兜底并发写入，冲突按已发出处理
		if again, getErr := repo.GetByDedupe(input.OrderID, input.EmailType, input.DedupeKey); getErr == nil && again != nil {
			return nil, nil
		}
		return nil, err
	}
	return log, nil
}

// DispatchAfterCommit 事务提交后触发实际发送。队列关闭时降级为同步尽力发送。
func (s *NotificationService) DispatchAfterCommit(logs ...*models.NotificationLog) {
	for _, log := range logs {
		if log == nil || log.ID == 0 {
			continue
		}
		if s.queueClient.Enabled() {
			if err := s.queueClient.EnqueueNotificationEmail(queue.NotificationEmailPayload{NotificationLogID: log.ID}); err != nil {
				logger.Errorw("notification_enqueue_failed", "notification_log_id", log.ID, "error", err)
			}
			continue
		}
		if err := s.SendByID(log.ID); err != nil {
			logger.Warnw("notification_inline_send_failed", "notification_log_id", log.ID, "error", err)
		}
	}
}

// SendByID 执行一条通知记录的实际发送。记录已标记发送时直接跳过。
func (s *NotificationService) SendByID(id uint) error {
	log, err := s.notifRepo.GetByID(id)
	if err != nil {
		return err
	}
	if log == nil {
		return ErrNotificationNotFound
	}
	if log.SentAt != nil {
		return nil
	}

	if err := s.emailService.Send(log.Recipient, log.Subject, log.Body); err != nil {
		return err
	}
	now := time.Now()
	if err := s.notifRepo.MarkSent(log.ID, now); err != nil {
		logger.Warnw("notification_mark_sent_failed", "notification_log_id", log.ID, "error", err)
	}
	logger.Infow("notification_sent",
		"notification_log_id", log.ID,
		"order_id", log.OrderID,
		"email_type", log.EmailType,
		"recipient", log.Recipient,
	)
	return nil
}

func buildNotificationContent(emailType, locale string, vars map[string]string) (string, string) {
	get := func(key string) string {
		if vars == nil {
			return ""
		}
		return strings.TrimSpace(vars[key])
	}
	orderNo := get("order_no")
	title := get("item_title")

	if isEnglishLocale(locale) {
		switch emailType {
		case constants.EmailTypeOrderConfirmed:
			return fmt.Sprintf("Order %s confirmed", orderNo),
				fmt.Sprintf("We have received your order %s and started fulfillment.\nYou will be notified as each item progresses.", orderNo)
		case constants.EmailTypeCourseAccess:
			body := fmt.Sprintf("Your course \"%s\" (order %s) is ready.\nAccess link: %s", title, orderNo, get("access_url"))
			if links := get("material_links"); links != "" {
				body += "\n\nCourse materials (links expire at " + get("material_expires") + "):\n" + links
			}
			return fmt.Sprintf("Course access for order %s", orderNo), body
		case constants.EmailTypeSubscriptionActive:
			return fmt.Sprintf("Subscription activated for order %s", orderNo),
				fmt.Sprintf("Your subscription \"%s\" is active until %s.", title, get("expires_at"))
		case constants.EmailTypeItemFulfilled:
			return fmt.Sprintf("Item fulfilled for order %s", orderNo),
				fmt.Sprintf("\"%s\" in your order %s has been fulfilled.", title, orderNo)
		case constants.EmailTypeOrderShipped:
			return fmt.Sprintf("Order %s shipped", orderNo),
				fmt.Sprintf("\"%s\" in your order %s has shipped.\nCarrier: %s\nTracking number: %s\nTrack it here: %s",
					title, orderNo, get("carrier"), get("tracking_number"), get("tracking_url"))
		case constants.EmailTypeOrderDelivered:
			return fmt.Sprintf("Order %s delivered", orderNo),
				fmt.Sprintf("\"%s\" in your order %s has been delivered. Enjoy!", title, orderNo)
		case constants.EmailTypeOrderFailed:
			return fmt.Sprintf("A problem with order %s", orderNo),
				fmt.Sprintf("We could not fulfill \"%s\" in your order %s.\nReason: %s\nOur support team will follow up shortly.",
					title, orderNo, get("reason"))
		case constants.EmailTypeDropshipConfirm:
			return fmt.Sprintf("[OPS] Manual confirmation needed: %s", orderNo),
				fmt.Sprintf("Dropship item \"%s\" of order %s is waiting for manual confirmation (item #%s).", title, orderNo, get("item_id"))
		case constants.EmailTypeInventoryManualShip:
			return fmt.Sprintf("[OPS] Warehouse pick needed: %s", orderNo),
				fmt.Sprintf("Owned-inventory item \"%s\" of order %s needs to be picked and shipped (item #%s).", title, orderNo, get("item_id"))
		}
		return fmt.Sprintf("Update for order %s", orderNo), fmt.Sprintf("Your order %s has an update.", orderNo)
	}

	switch emailType {
	case constants.EmailTypeOrderConfirmed:
		return fmt.Sprintf("订单 %s 已确认", orderNo),
			fmt.Sprintf("我们已收到您的订单 %s，并开始安排履约。\n每个商品的进展都会另行通知您。", orderNo)
	case constants.EmailTypeCourseAccess:
		body := fmt.Sprintf("您的课程「%s」（订单 %s）已开通。\n访问链接：%s", title, orderNo, get("access_url"))
		if links := get("material_links"); links != "" {
			body += "\n\n课程资料（链接有效期至 " + get("material_expires") + "）：\n" + links
		}
		return fmt.Sprintf("订单 %s 课程已开通", orderNo), body
	case constants.EmailTypeSubscriptionActive:
		return fmt.Sprintf("订单 %s 订阅已生效", orderNo),
			fmt.Sprintf("您的订阅「%s」已生效，有效期至 %s。", title, get("expires_at"))
	case constants.EmailTypeItemFulfilled:
		return fmt.Sprintf("订单 %s 商品已履约", orderNo),
			fmt.Sprintf("您订单 %s 中的「%s」已完成履约。", orderNo, title)
	case constants.EmailTypeOrderShipped:
		return fmt.Sprintf("订单 %s 已发货", orderNo),
			fmt.Sprintf("您订单 %s 中的「%s」已发货。\n承运商：%s\n运单号：%s\n物流跟踪：%s",
				orderNo, title, get("carrier"), get("tracking_number"), get("tracking_url"))
	case constants.EmailTypeOrderDelivered:
		return fmt.Sprintf("订单 %s 已送达", orderNo),
			fmt.Sprintf("您订单 %s 中的「%s」已送达，请查收。", orderNo, title)
	case constants.EmailTypeOrderFailed:
		return fmt.Sprintf("订单 %s 出现问题", orderNo),
			fmt.Sprintf("您订单 %s 中的「%s」未能完成履约。\n原因：%s\n客服会尽快与您联系处理。", orderNo, title, get("reason"))
	case constants.EmailTypeDropshipConfirm:
		return fmt.Sprintf("【运营】订单 %s 需人工确认", orderNo),
			fmt.Sprintf("订单 %s 的直邮商品「%s」等待人工确认发货（履约项 #%s）。", orderNo, title, get("item_id"))
	case constants.EmailTypeInventoryManualShip:
		return fmt.Sprintf("【运营】订单 %s 需仓库发货", orderNo),
			fmt.Sprintf("订单 %s 的自有库存商品「%s」需要拣货发货（履约项 #%s）。", orderNo, title, get("item_id"))
	}
	return fmt.Sprintf("订单 %s 有新进展", orderNo), fmt.Sprintf("您的订单 %s 状态有更新。", orderNo)
}

func isEnglishLocale(locale string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "en")
}
