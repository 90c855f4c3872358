package fulfillment

import (
	"errors"
	"io"
	"strconv"

	"github.com/kecheng-next/internal/connector"
	handlershared "github.com/kecheng-next/internal/http/handlers/shared"
	"github.com/kecheng-next/internal/http/response"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/repository"
	"github.com/kecheng-next/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// SupplierWebhook 供应商状态回调入口
func (h *Handler) SupplierWebhook(c *gin.Context) {
	supplier := c.Param("supplier")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(body) == 0 {
		response.BadRequest(c, "empty body")
		return
	}

	if err := h.ReconcilerService.HandleWebhook(c.Request.Context(), supplier, c.Request.Header, body); err != nil {
		switch {
		case errors.Is(err, connector.ErrSignatureInvalid):
			response.Unauthorized(c, "invalid signature")
		case errors.Is(err, service.ErrWebhookUnclaimed):
			response.BadRequest(c, "unrecognized webhook payload")
		case errors.Is(err, connector.ErrResponseInvalid):
			response.BadRequest(c, "malformed webhook payload")
		default:
			logger.Errorw("webhook_handle_failed", "supplier", supplier, "error", err)
			response.Error(c, response.CodeInternal, "webhook processing failed")
		}
		return
	}
	response.Success(c, nil)
}

// ListWebhookEvents 分页查询缓冲的回调事件（运维排障用）
func (h *Handler) ListWebhookEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = handlershared.NormalizePagination(page, pageSize)

	events, total, err := h.WebhookEventRepo.List(repository.WebhookEventListFilter{
		Page:     page,
		PageSize: pageSize,
		Supplier: c.Query("supplier"),
		Status:   c.Query("status"),
	})
	if err != nil {
		logger.Errorw("webhook_event_list_failed", "error", err)
		response.Error(c, response.CodeInternal, "query failed")
		return
	}
	response.SuccessWithPage(c, events, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
