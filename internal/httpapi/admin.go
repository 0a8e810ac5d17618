package httpapi

import (
	"context"
	"net/http"

	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Admin handlers. RBAC: admin (enforced by the route group).

func (h Handlers) GetCoinConfig(c *gin.Context) {
	cfg, err := h.Pricing.Current(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h Handlers) CoinConfigHistory(c *gin.Context) {
	out, err := h.Pricing.History(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// PutCoinConfig activates a new config version. Calls already in progress
// keep the rate they were initiated with.
func (h Handlers) PutCoinConfig(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req pricing.CoinConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	saved, err := h.Pricing.Update(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h Handlers) SettleRedemption(c *gin.Context) {
	h.closeRedemption(c, h.Wallet.SettleRedemption)
}

func (h Handlers) CancelRedemption(c *gin.Context) {
	h.closeRedemption(c, h.Wallet.CancelRedemption)
}

func (h Handlers) closeRedemption(c *gin.Context, closeFn func(ctx context.Context, id string) (wallet.Redemption, error)) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	r, err := closeFn(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogRedemptionClosed(ctx, uid, r.ResponderID, r.ID, string(r.Status)); err != nil {
			_ = c.Error(err)
		}
	}
	c.JSON(http.StatusOK, r)
}

type purchaseRequest struct {
	Coins   int64  `json:"coins"`
	OrderID string `json:"order_id"`
}

// RecordPurchase credits coins for a payment order settled by the payment
// provider. Replaying an order id returns the original transaction.
func (h Handlers) RecordPurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	tx, err := h.Wallet.Purchase(c.Request.Context(), c.Param("id"), req.Coins, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DeleteAccount soft-deletes an account. Calls that still reference it are
// repaired by the reaper.
func (h Handlers) DeleteAccount(c *gin.Context) {
	if err := h.Accounts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) RecentAudit(c *gin.Context) {
	out, err := h.Audit.Recent(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
