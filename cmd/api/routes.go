package main

import (
	"context"
	"net/http"
	"time"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := a.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The socket authenticates itself from the header or ?token.
	r.GET("/ws", a.Realtime.Handler())

	h := httpapi.Handlers{
		Auth:      a.Auth,
		Accounts:  a.Accounts,
		Calls:     a.Calls,
		Chat:      a.Chat,
		Wallet:    a.Wallet,
		Pricing:   a.Pricing,
		Reporting: a.Reporting,
		Audit:     a.Audit,
		DevLogin:  !a.Config.IsProduction(),
	}
	h.RegisterAuth(r)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.Auth))
	h.Register(v1)
}
