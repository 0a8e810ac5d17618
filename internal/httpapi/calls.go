package httpapi

import (
	"net/http"
	"time"

	"callcoin-platform/internal/calls"

	"github.com/gin-gonic/gin"
)

type initiateCallRequest struct {
	ResponderID string `json:"responder_id"`
	Type        string `json:"type"`
}

// InitiateCall rings a responder. RBAC: user.
func (h Handlers) InitiateCall(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	sess, err := h.Calls.Initiate(c.Request.Context(), uid, req.ResponderID, calls.CallType(req.Type))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// callAction adapts a (ctx, callID, actorID) transition to a handler.
func (h Handlers) callAction(fn func(h Handlers, c *gin.Context, callID, actorID string) (calls.Call, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, _, ok := identity(c)
		if !ok {
			return
		}
		call, err := fn(h, c, c.Param("id"), uid)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, call)
	}
}

func (h Handlers) AcceptCall() gin.HandlerFunc {
	return h.callAction(func(h Handlers, c *gin.Context, id, actor string) (calls.Call, error) {
		return h.Calls.Accept(c.Request.Context(), id, actor)
	})
}

func (h Handlers) RejectCall() gin.HandlerFunc {
	return h.callAction(func(h Handlers, c *gin.Context, id, actor string) (calls.Call, error) {
		return h.Calls.Reject(c.Request.Context(), id, actor)
	})
}

func (h Handlers) CancelCall() gin.HandlerFunc {
	return h.callAction(func(h Handlers, c *gin.Context, id, actor string) (calls.Call, error) {
		return h.Calls.Cancel(c.Request.Context(), id, actor)
	})
}

// ConfirmCall reports that media is flowing and starts the meter.
func (h Handlers) ConfirmCall() gin.HandlerFunc {
	return h.callAction(func(h Handlers, c *gin.Context, id, actor string) (calls.Call, error) {
		return h.Calls.Confirm(c.Request.Context(), id, actor)
	})
}

func (h Handlers) EndCall() gin.HandlerFunc {
	return h.callAction(func(h Handlers, c *gin.Context, id, actor string) (calls.Call, error) {
		return h.Calls.EndAsParticipant(c.Request.Context(), id, actor)
	})
}

func (h Handlers) GetCall(c *gin.Context) {
	uid, role, ok := identity(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("id"), uid, role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// ListCalls returns the caller's calls created in [from, to).
func (h Handlers) ListCalls(c *gin.Context) {
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
		to = time.Now().UTC().Add(time.Second)
	}
	limit := queryLimit(c)
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out, err := h.Calls.ListForAccount(c.Request.Context(), uid, from, to, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}
