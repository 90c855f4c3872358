package fulfillment

import (
	"errors"
	"strconv"

	"github.com/kecheng-next/internal/http/response"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/service"

	"github.com/gin-gonic/gin"
)

// ConfirmManualItem 人工确认发货/签收（自有库存、人工代发）
func (h *Handler) ConfirmManualItem(c *gin.Context) {
	itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || itemID == 0 {
		response.BadRequest(c, "invalid item id")
		return
	}

	var input service.ManualConfirmInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	item, err := h.DispatcherService.ConfirmManualItem(uint(itemID), input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound), errors.Is(err, service.ErrOrderNotFound):
			response.NotFound(c, "item not found")
		case errors.Is(err, service.ErrSupplierOrderNotFound):
			response.NotFound(c, "supplier order not found")
		case errors.Is(err, service.ErrManualConfirmInvalid):
			response.BadRequest(c, "manual confirmation not allowed for this item")
		case errors.Is(err, service.ErrItemStateInvalid):
			response.Error(c, response.CodeConflict, "item state does not allow this action")
		default:
			logger.Errorw("manual_confirm_failed", "item_id", itemID, "error", err)
			response.Error(c, response.CodeInternal, "confirmation failed")
		}
		return
	}
	response.Success(c, item)
}
