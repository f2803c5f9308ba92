package handler

import (
	"strconv"

	"walletsvc/internal/service"
	"walletsvc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WalletHandler 钱包 HTTP 入口
type WalletHandler struct {
	wallets   *service.WalletService
	transfers *service.TransferService
}

func NewWalletHandler(wallets *service.WalletService, transfers *service.TransferService) *WalletHandler {
	return &WalletHandler{wallets: wallets, transfers: transfers}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type transferRequest struct {
	ToWalletID string          `json:"toWalletId" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
}

// Deposit POST /v1/wallet/:id/deposit
func (h *WalletHandler) Deposit(c *gin.Context) {
	walletID := c.Param("id")
	req, ok := bindAmount(c)
	if !ok {
		return
	}

	resp, err := h.wallets.Deposit(c.Request.Context(), walletID, req.Amount, requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// Withdraw POST /v1/wallet/:id/withdraw
func (h *WalletHandler) Withdraw(c *gin.Context) {
	walletID := c.Param("id")
	req, ok := bindAmount(c)
	if !ok {
		return
	}

	resp, err := h.wallets.Withdraw(c.Request.Context(), walletID, req.Amount, requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// Transfer POST /v1/wallet/:id/transfer
func (h *WalletHandler) Transfer(c *gin.Context) {
	fromWalletID := c.Param("id")
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数不合法: "+err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		response.BadRequest(c, "金额必须大于 0")
		return
	}

	resp, err := h.transfers.ExecuteTransfer(c.Request.Context(), fromWalletID, req.ToWalletID, req.Amount, requestID(c))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.Raw(c, resp)
}

// GetBalance GET /v1/wallet/:id
func (h *WalletHandler) GetBalance(c *gin.Context) {
	result, err := h.wallets.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.OK(c, result)
}

// GetHistory GET /v1/wallet/:id/history?limit=&offset=
func (h *WalletHandler) GetHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	events, err := h.wallets.GetHistory(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		response.Fail(c, service.ErrorEnvelope(err))
		return
	}
	response.OK(c, events)
}

func bindAmount(c *gin.Context) (*amountRequest, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数不合法: "+err.Error())
		return nil, false
	}
	if !req.Amount.IsPositive() {
		response.BadRequest(c, "金额必须大于 0")
		return nil, false
	}
	return &req, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
