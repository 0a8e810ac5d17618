package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/audit"
	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/chat"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/rbac"
	"callcoin-platform/internal/reporting"
	"callcoin-platform/internal/wallet"
	"callcoin-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Accounts  *accounts.Service
	Calls     *calls.Service
	Chat      *chat.Service
	Wallet    *wallet.Service
	Pricing   *pricing.Service
	Reporting *reporting.Service
	Audit     *audit.Service

	// DevLogin enables the credential-free login endpoint.
	DevLogin bool
}

// writeError maps err to its apperr kind. Internal errors are logged and
// collapsed to a generic message.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"error": apperr.Message(err), "code": string(kind)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": string(apperr.KindValidation)})
}

// identity reads the caller set by auth.RequireAccessToken.
func identity(c *gin.Context) (string, string, bool) {
	uid, role, err := auth.Identity(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return "", "", false
	}
	return uid, role, true
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

// queryTime parses an RFC3339 query parameter; empty yields the zero time.
func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return t.UTC(), nil
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair, registering the account on first use.
//
// NOTE: This is a development endpoint. Real deployments verify identity
// upstream and never enable it.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.UserID == "" || req.Role == "" {
		badRequest(c, "user_id and role required")
		return
	}
	ctx := c.Request.Context()
	acct, err := h.Accounts.Get(ctx, req.UserID)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		acct, err = h.Accounts.Register(ctx, req.UserID, req.Role)
		if err != nil {
			writeError(c, err)
			return
		}
	case err != nil:
		writeError(c, err)
		return
	}
	if acct.IsDeleted() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account deleted", "code": string(apperr.KindNotAuthorized)})
		return
	}
	h.issue(c, acct.ID, acct.Role)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "refresh_token required")
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	acct, err := h.Accounts.Get(c.Request.Context(), claims.UserID)
	if err != nil || acct.IsDeleted() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	h.issue(c, acct.ID, acct.Role)
}

func (h Handlers) issue(c *gin.Context, userID, role string) {
	pair, err := h.Auth.IssuePair(time.Now(), userID, role)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Accounts ---

func (h Handlers) Me(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	acct, err := h.Accounts.Get(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// SetAvailability updates the caller's presence and channel toggles.
// RBAC: responder.
func (h Handlers) SetAvailability(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req accounts.Availability
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	acct, err := h.Accounts.SetAvailability(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// Summary reports the caller's calls and coins over [from, to).
// Defaults to the last 30 days.
func (h Handlers) Summary(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	from, err := queryTime(c, "from")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	out, err := h.Reporting.AccountSummary(c.Request.Context(), reporting.SummaryRequest{
		AccountID: uid,
		Range:     reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequireResponder() gin.HandlerFunc { return rbac.RequireAnyRole(rbac.RoleResponder) }

func RequireUser() gin.HandlerFunc { return rbac.RequireAnyRole(rbac.RoleUser) }
