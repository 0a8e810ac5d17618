package httpapi

import (
	"errors"
	"net/http"

	"callcoin-platform/internal/pricing"

	"github.com/gin-gonic/gin"
)

type openRoomRequest struct {
	ResponderID string `json:"responder_id"`
}

// OpenRoom returns the caller's room with a responder, creating it once.
// RBAC: user.
func (h Handlers) OpenRoom(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req openRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	room, err := h.Chat.OpenRoom(c.Request.Context(), uid, req.ResponderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h Handlers) ListRooms(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	rooms, err := h.Chat.Rooms(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type sendMessageRequest struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id"`
}

// SendMessage bills and stores one message. The realtime channel offers the
// same operation; both go through chat.Service.Send.
func (h Handlers) SendMessage(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	msg, err := h.Chat.Send(c.Request.Context(), uid, c.Param("id"), req.Body, req.ClientMessageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h Handlers) ListMessages(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	before, err := queryTime(c, "before")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	msgs, err := h.Chat.ListMessages(c.Request.Context(), c.Param("id"), uid, before, queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ChatCost prices one message for wallet.RequireSufficientBalance. A disabled
// channel costs nothing here so the send path reports the real reason.
func (h Handlers) ChatCost(c *gin.Context) (int64, error) {
	rate, err := h.Pricing.RateFor(c.Request.Context(), pricing.ChannelChat)
	if errors.Is(err, pricing.ErrChannelNotBillable) {
		return 0, nil
	}
	return rate, err
}
