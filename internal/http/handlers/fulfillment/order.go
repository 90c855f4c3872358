package fulfillment

import (
	"errors"
	"strconv"
	"time"

	handlershared "github.com/kecheng-next/internal/http/handlers/shared"
	"github.com/kecheng-next/internal/http/response"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/repository"
	"github.com/kecheng-next/internal/service"

	"github.com/gin-gonic/gin"
)

// IntakeOrder 接收已支付订单并启动履约
func (h *Handler) IntakeOrder(c *gin.Context) {
	var input service.IntakeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	order, err := h.DispatcherService.Intake(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIntakeInvalid):
			response.BadRequest(c, "intake payload invalid")
		case errors.Is(err, service.ErrKindUnknown):
			response.BadRequest(c, "unknown item kind")
		default:
			logger.Errorw("order_intake_failed", "order_no", input.OrderNo, "error", err)
			response.Error(c, response.CodeInternal, "intake failed")
		}
		return
	}
	response.Success(c, order)
}

// GetOrderByOrderNo 查询履约单详情
func (h *Handler) GetOrderByOrderNo(c *gin.Context) {
	orderNo := c.Param("order_no")
	order, err := h.DispatcherService.GetOrderByOrderNo(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			response.NotFound(c, "order not found")
			return
		}
		logger.Errorw("order_get_failed", "order_no", orderNo, "error", err)
		response.Error(c, response.CodeInternal, "query failed")
		return
	}
	response.Success(c, order)
}

// ListOrders 分页查询履约单
func (h *Handler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = handlershared.NormalizePagination(page, pageSize)

	filter := repository.OrderListFilter{
		Page:            page,
		PageSize:        pageSize,
		OrderNo:         c.Query("order_no"),
		UserEmail:       c.Query("user_email"),
		Keyword:         c.Query("keyword"),
		AggregateStatus: c.Query("aggregate_status"),
	}
	if from := c.Query("created_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.CreatedFrom = &t
		}
	}
	if to := c.Query("created_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.CreatedTo = &t
		}
	}

	orders, total, err := h.OrderRepo.List(filter)
	if err != nil {
		logger.Errorw("order_list_failed", "error", err)
		response.Error(c, response.CodeInternal, "query failed")
		return
	}
	response.SuccessWithPage(c, orders, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
