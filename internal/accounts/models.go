package accounts

import (
	"time"

	"callcoin-platform/internal/apperr"
)

// Account is the single source of truth for a participant's balance and
// availability. Availability is never duplicated on other records.
//
// Balance is mutated only through internal/wallet.
type Account struct {
	ID   string `json:"id" db:"id"`
	Role string `json:"role" db:"role"`

	Balance int64 `json:"balance" db:"balance"`

	InCall       bool `json:"in_call" db:"in_call"`
	IsOnline     bool `json:"is_online" db:"is_online"`
	AudioEnabled bool `json:"audio_enabled" db:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled" db:"video_enabled"`
	ChatEnabled  bool `json:"chat_enabled" db:"chat_enabled"`

	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (a Account) IsDeleted() bool { return a.DeletedAt != nil }

// Availability is the mutable presence/channel subset of Account.
type Availability struct {
	Online *bool `json:"online,omitempty"`
	Audio  *bool `json:"audio_enabled,omitempty"`
	Video  *bool `json:"video_enabled,omitempty"`
	Chat   *bool `json:"chat_enabled,omitempty"`
}

func (av Availability) apply(a *Account) {
	if av.Online != nil {
		a.IsOnline = *av.Online
	}
	if av.Audio != nil {
		a.AudioEnabled = *av.Audio
	}
	if av.Video != nil {
		a.VideoEnabled = *av.Video
	}
	if av.Chat != nil {
		a.ChatEnabled = *av.Chat
	}
}

var (
	ErrNotFound      = apperr.New(apperr.ErrNotFound, "account not found")
	ErrAlreadyExists = apperr.New(apperr.ErrConflict, "account already exists")
	ErrInvalidRole   = apperr.New(apperr.ErrValidation, "invalid role")
)
