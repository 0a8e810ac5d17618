package wallet

import (
	"context"
	"net/http"

	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// BalanceReader is the minimal wallet surface needed by middleware.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (int64, error)
}

// CostFunc estimates the coins a request will cost.
type CostFunc func(c *gin.Context) (int64, error)

// RequireSufficientBalance rejects the request with 402 when the caller's
// balance is below the estimated cost. It is a fast pre-check only; the ledger
// debit remains the authority.
//
// admin bypasses.
func RequireSufficientBalance(svc BalanceReader, cost CostFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role, err := auth.Identity(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		if rbac.IsAdmin(role) || role == rbac.RoleResponder {
			c.Next()
			return
		}

		est, err := cost(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "pricing unavailable", "code": "DEPENDENCY_UNAVAILABLE"})
			return
		}
		if est <= 0 {
			c.Next()
			return
		}

		bal, err := svc.Balance(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal < est {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance", "code": "INSUFFICIENT_FUNDS"})
			return
		}

		c.Next()
	}
}
