package chat

import (
	"time"

	"callcoin-platform/internal/apperr"
)

// MaxBodyRunes bounds a message body.
const MaxBodyRunes = 2000

// Room is the conversation between one user and one responder.
type Room struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	ResponderID string    `json:"responder_id" db:"responder_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

func (r Room) IsParticipant(accountID string) bool {
	return accountID != "" && (accountID == r.UserID || accountID == r.ResponderID)
}

type Message struct {
	ID           string    `json:"id" db:"id"`
	RoomID       string    `json:"room_id" db:"room_id"`
	SenderID     string    `json:"sender_id" db:"sender_id"`
	RecipientID  string    `json:"recipient_id" db:"recipient_id"`
	Body         string    `json:"body" db:"body"`
	CoinsCharged int64     `json:"coins_charged" db:"coins_charged"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrRoomNotFound    = apperr.New(apperr.ErrNotFound, "chat room not found")
	ErrNotParticipant  = apperr.New(apperr.ErrNotAuthorized, "not a participant of this room")
	ErrInvalidMessage  = apperr.New(apperr.ErrValidation, "invalid message")
	ErrInvalidRoom     = apperr.New(apperr.ErrValidation, "invalid room request")
	ErrChatDisabled    = apperr.New(apperr.ErrConflict, "chat disabled")
	ErrMessageConflict = apperr.New(apperr.ErrConflict, "message id already used")
)
