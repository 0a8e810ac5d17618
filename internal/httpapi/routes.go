package httpapi

import (
	"callcoin-platform/internal/rbac"
	"callcoin-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// RegisterAuth wires the unauthenticated token routes.
func (h Handlers) RegisterAuth(r gin.IRouter) {
	g := r.Group("/v1/auth")
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
}

// Register wires the authenticated API onto v1. The caller installs the
// access token middleware on the group.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.GET("/me", h.Me)
	v1.GET("/me/summary", h.Summary)
	v1.PUT("/me/availability", RequireResponder(), h.SetAvailability)

	callGroup := v1.Group("/calls")
	{
		callGroup.POST("", RequireUser(), h.InitiateCall)
		callGroup.GET("", h.ListCalls)
		callGroup.GET("/:id", h.GetCall)
		callGroup.POST("/:id/accept", RequireResponder(), h.AcceptCall())
		callGroup.POST("/:id/reject", RequireResponder(), h.RejectCall())
		callGroup.POST("/:id/cancel", RequireUser(), h.CancelCall())
		callGroup.POST("/:id/confirm", h.ConfirmCall())
		callGroup.POST("/:id/end", h.EndCall())
	}

	chatGroup := v1.Group("/chat/rooms")
	{
		chatGroup.POST("", RequireUser(), h.OpenRoom)
		chatGroup.GET("", h.ListRooms)
		chatGroup.GET("/:id/messages", h.ListMessages)
		chatGroup.POST("/:id/messages",
			rbac.RequireAnyRole(rbac.RoleUser, rbac.RoleResponder),
			wallet.RequireSufficientBalance(h.Wallet, h.ChatCost),
			h.SendMessage)
	}

	walletGroup := v1.Group("/wallet")
	{
		walletGroup.GET("/balance", h.GetBalance)
		walletGroup.GET("/transactions", h.ListTransactions)
	}

	earnings := v1.Group("/earnings")
	earnings.Use(RequireResponder())
	{
		earnings.GET("", h.GetEarnings)
		earnings.GET("/redemptions", h.ListRedemptions)
		earnings.POST("/redemptions", h.RequestRedemption)
	}

	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAdmin())
	{
		admin.GET("/coin-config", h.GetCoinConfig)
		admin.PUT("/coin-config", h.PutCoinConfig)
		admin.GET("/coin-config/history", h.CoinConfigHistory)
		admin.POST("/redemptions/:id/settle", h.SettleRedemption)
		admin.POST("/redemptions/:id/cancel", h.CancelRedemption)
		admin.POST("/accounts/:id/purchases", h.RecordPurchase)
		admin.DELETE("/accounts/:id", h.DeleteAccount)
		admin.GET("/audit", h.RecentAudit)
	}
}
