package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kecheng-next/internal/config"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/models"
	"github.com/kecheng-next/internal/repository"
	"github.com/kecheng-next/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const (
	courseRefPrefix = "course:"
	planRefPrefix   = "plan:"
	// 订阅按自然月粒度售卖，quantity 表示购买的月数
	subscriptionPeriod = 30 * 24 * time.Hour
)

// DigitalGrant 数字交付结果（邮件内容所需的上下文）
type DigitalGrant struct {
	Delivery        *models.DigitalDelivery
	AccessURL       string
	MaterialLinks   []storage.MaterialLink
	MaterialExpires time.Time
}

// DigitalDeliveryService 数字交付服务：课程开通、订阅权益与资料包分享
type DigitalDeliveryService struct {
	digitalRepo     repository.DigitalDeliveryRepository
	entitlementRepo repository.EntitlementRepository
	storageClient   *storage.Client
	cfg             config.DigitalConfig
}

// NewDigitalDeliveryService 创建数字交付服务
func NewDigitalDeliveryService(
	digitalRepo repository.DigitalDeliveryRepository,
	entitlementRepo repository.EntitlementRepository,
	storageClient *storage.Client,
	cfg config.DigitalConfig,
) *DigitalDeliveryService {
	return &DigitalDeliveryService{
		digitalRepo:     digitalRepo,
		entitlementRepo: entitlementRepo,
		storageClient:   storageClient,
		cfg:             cfg,
	}
}

// GrantCourseAccess 开通课程访问。已存在未撤销的交付记录时原样返回，不重复授予。
func (s *DigitalDeliveryService) GrantCourseAccess(ctx context.Context, tx *gorm.DB, order *models.FulfillmentOrder, item *models.FulfillmentItem) (*DigitalGrant, error) {
	repo := s.digitalRepo.WithTx(tx)
	existing, err := repo.GetByItemID(item.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.RevokedAt == nil {
		return &DigitalGrant{Delivery: existing, AccessURL: existing.AccessURL}, nil
	}

	courseCode := resolveDigitalRef(item.ProductRef, courseRefPrefix)
	accessURL, err := s.buildAccessURL(order.OrderNo, item.ID, courseCode)
	if err != nil {
		return nil, err
	}

	grant := &DigitalGrant{AccessURL: accessURL}
	folderRef := ""
	if s.storageClient != nil {
		// 资料包分享失败不阻断课程开通
		prefix := fmt.Sprintf("courses/%s/materials", courseCode)
		ttl := time.Duration(s.cfg.MaterialsShareDays) * 24 * time.Hour
		links, shareErr := s.storageClient.ShareFolder(ctx, prefix, ttl)
		if shareErr != nil {
			logger.Warnw("course_materials_share_failed",
				"order_no", order.OrderNo,
				"item_id", item.ID,
				"course", courseCode,
				"error", shareErr,
			)
		} else if len(links) > 0 {
			folderRef = prefix
			grant.MaterialLinks = links
			grant.MaterialExpires = time.Now().Add(ttl)
		}
	}

	now := time.Now()
	delivery := &models.DigitalDelivery{
		ItemID:       item.ID,
		DeliveryType: constants.DigitalDeliveryTypeCourseAccess,
		AccessURL:    accessURL,
		FolderRef:    folderRef,
		GrantedAt:    &now,
	}
	if existing != nil {
		// 之前被撤销过，重新授予
		updates := map[string]interface{}{
			"access_url": accessURL,
			"folder_ref": folderRef,
			"granted_at": now,
			"revoked_at": nil,
		}
		if err := repo.Update(existing.ID, updates); err != nil {
			return nil, err
		}
		existing.AccessURL = accessURL
		existing.FolderRef = folderRef
		existing.GrantedAt = &now
		existing.RevokedAt = nil
		grant.Delivery = existing
		return grant, nil
	}
	if err := repo.Create(delivery); err != nil {
		return nil, err
	}
	grant.Delivery = delivery
	return grant, nil
}

// ActivateSubscription 激活订阅权益。同一订单重复激活不重复延长有效期。
func (s *DigitalDeliveryService) ActivateSubscription(tx *gorm.DB, order *models.FulfillmentOrder, item *models.FulfillmentItem) (*models.Entitlement, error) {
	planCode := resolveDigitalRef(item.ProductRef, planRefPrefix)
	if planCode == "" {
		return nil, ErrIntakeInvalid
	}
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	extension := time.Duration(quantity) * subscriptionPeriod

	repo := s.entitlementRepo.WithTx(tx)
	existing, err := repo.GetByUserPlan(order.UserEmail, planCode)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if existing == nil {
		entitlement := &models.Entitlement{
			UserEmail:   order.UserEmail,
			PlanCode:    planCode,
			LastOrderNo: order.OrderNo,
			StartsAt:    now,
			ExpiresAt:   now.Add(extension),
		}
		if err := repo.Create(entitlement); err != nil {
			return nil, err
		}
		return entitlement, nil
	}
	if existing.LastOrderNo == order.OrderNo {
		return existing, nil
	}

	// 未到期则顺延，已到期则从当前时间起算
	base := existing.ExpiresAt
	if base.Before(now) {
		base = now
	}
	newExpires := base.Add(extension)
	updates := map[string]interface{}{
		"last_order_no": order.OrderNo,
		"expires_at":    newExpires,
	}
	if err := repo.Update(existing.ID, updates); err != nil {
		return nil, err
	}
	existing.LastOrderNo = order.OrderNo
	existing.ExpiresAt = newExpires
	return existing, nil
}

// EnsureSubscriptionDelivery 为订阅履约项落数字交付记录（幂等）
func (s *DigitalDeliveryService) EnsureSubscriptionDelivery(tx *gorm.DB, item *models.FulfillmentItem) (*models.DigitalDelivery, error) {
	repo := s.digitalRepo.WithTx(tx)
	existing, err := repo.GetByItemID(item.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	now := time.Now()
	delivery := &models.DigitalDelivery{
		ItemID:       item.ID,
		DeliveryType: constants.DigitalDeliveryTypeSubscription,
		GrantedAt:    &now,
	}
	if err := repo.Create(delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

// Revoke 撤销履约项的数字交付（退款等场景）
func (s *DigitalDeliveryService) Revoke(itemID uint) error {
	delivery, err := s.digitalRepo.GetByItemID(itemID)
	if err != nil {
		return err
	}
	if delivery == nil || delivery.RevokedAt != nil {
		return nil
	}
	now := time.Now()
	return s.digitalRepo.Update(delivery.ID, map[string]interface{}{"revoked_at": now})
}

func (s *DigitalDeliveryService) buildAccessURL(orderNo string, itemID uint, courseCode string) (string, error) {
	if strings.TrimSpace(s.cfg.AccessSecret) == "" {
		return "", ErrIntakeInvalid
	}
	expireHours := s.cfg.AccessExpireHours
	if expireHours <= 0 {
		expireHours = 720
	}
	claims := jwt.MapClaims{
		"order_no": orderNo,
		"item_id":  itemID,
		"course":   courseCode,
		"exp":      time.Now().Add(time.Duration(expireHours) * time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.cfg.CourseBaseURL, "/")
	return fmt.Sprintf("%s/learn/%s?token=%s", base, url.PathEscape(courseCode), token), nil
}

func resolveDigitalRef(productRef, prefix string) string {
	trimmed := strings.TrimSpace(productRef)
	if strings.HasPrefix(trimmed, prefix) {
		return strings.TrimPrefix(trimmed, prefix)
	}
	return trimmed
}
