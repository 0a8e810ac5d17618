// Package realtime is the authenticated websocket channel: rooms, acks and
// cross-process fan-out.
package realtime

import (
	"encoding/json"
	"strings"
)

// Client events.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventAck         = "ack"
	EventError       = "error"
)

const userRoomPrefix = "user:"

// UserRoom is the personal room every connection of an account joins on connect.
func UserRoom(accountID string) string { return userRoomPrefix + accountID }

func isUserRoom(room string) bool { return strings.HasPrefix(room, userRoomPrefix) }

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	AckID string `json:"ackId,omitempty"`
}

type inbound struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId"`
}

type Ack struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type sendRequest struct {
	RoomID          string `json:"roomId"`
	Body            string `json:"body"`
	ClientMessageID string `json:"clientMessageId"`
}

type typingRequest struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type TypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func encode(eventType string, data any, ackID string) ([]byte, error) {
	return json.Marshal(Envelope{Type: eventType, Data: data, AckID: ackID})
}
