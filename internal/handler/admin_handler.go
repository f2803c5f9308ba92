package handler

import (
	"walletsvc/internal/service"
	"walletsvc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminHandler 钱包生命周期管理入口（冻结 / 解冻 / 销户 / 限额）
type AdminHandler struct {
	wallets *service.WalletService
}

func NewAdminHandler(wallets *service.WalletService) *AdminHandler {
	return &AdminHandler{wallets: wallets}
}

type limitRequest struct {
	DailyWithdrawalLimit *decimal.Decimal `json:"dailyWithdrawalLimit"`
}

// Freeze POST /v1/wallet/:id/freeze
func (h *AdminHandler) Freeze(c *gin.Context) {
	resp, err := h.wallets.Freeze(c.Request.Context(), c.Param("id"), requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// Unfreeze POST /v1/wallet/:id/unfreeze
func (h *AdminHandler) Unfreeze(c *gin.Context) {
	resp, err := h.wallets.Unfreeze(c.Request.Context(), c.Param("id"), requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// Close POST /v1/wallet/:id/close
func (h *AdminHandler) Close(c *gin.Context) {
	resp, err := h.wallets.Close(c.Request.Context(), c.Param("id"), requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// SetLimit PUT /v1/wallet/:id/limit
// dailyWithdrawalLimit 传 null 表示移除限额
func (h *AdminHandler) SetLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数不合法: "+err.Error())
		return
	}
	if req.DailyWithdrawalLimit != nil && !req.DailyWithdrawalLimit.IsPositive() {
		response.BadRequest(c, "提现限额必须大于 0")
		return
	}

	resp, err := h.wallets.SetDailyWithdrawalLimit(c.Request.Context(), c.Param("id"), req.DailyWithdrawalLimit, requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}
