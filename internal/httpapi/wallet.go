package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// --- Wallet ---

func (h Handlers) GetBalance(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.Balance(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": uid, "balance": bal})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	before, err := queryTime(c, "before")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	txs, err := h.Wallet.Transactions(c.Request.Context(), uid, before, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// --- Earnings (responder) ---

func (h Handlers) GetEarnings(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	e, err := h.Wallet.Earnings(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type redemptionRequest struct {
	Coins int64 `json:"coins"`
}

// RequestRedemption locks pending earnings for payout.
func (h Handlers) RequestRedemption(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req redemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	r, err := h.Wallet.RequestRedemption(c.Request.Context(), uid, req.Coins)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h Handlers) ListRedemptions(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	out, err := h.Wallet.Redemptions(c.Request.Context(), uid, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": out})
}
