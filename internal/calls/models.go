package calls

import (
	"time"

	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/pricing"
)

// Call is one audio or video session between a user (payer) and a responder.
//
// Money invariant reminder: coins are never stored here as a source of truth.
// CoinsCharged is read back from the ledger (entity_id = call id) when the call ends.
type Call struct {
	ID          string   `json:"id" db:"id"`
	UserID      string   `json:"user_id" db:"user_id"`
	ResponderID string   `json:"responder_id" db:"responder_id"`
	Type        CallType `json:"type" db:"type"`
	Status      Status   `json:"status" db:"status"`
	RoomID      string   `json:"room_id" db:"room_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`

	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	CoinsCharged    int64  `json:"coins_charged" db:"coins_charged"`
	EndReason       string `json:"end_reason,omitempty" db:"end_reason"`

	Meter LiveMeter `json:"live_meter"`

	// MaxDurationSeconds is captured from the coin config at initiation; 0 means uncapped.
	MaxDurationSeconds int `json:"max_duration_seconds" db:"max_duration_seconds"`

	// RatePerMinute is the rate at confirmation. Informational; ticks resolve the live rate.
	RatePerMinute int64 `json:"rate_per_minute" db:"rate_per_minute"`

	// ScheduledEndAt projects when the balance runs out at the current rate.
	ScheduledEndAt *time.Time `json:"scheduled_end_at,omitempty" db:"scheduled_end_at"`
}

// LiveMeter tracks billing progress of an ACTIVE call.
type LiveMeter struct {
	LastTickAt         *time.Time `json:"last_tick_at,omitempty" db:"last_tick_at"`
	TickCount          int        `json:"tick_count" db:"tick_count"`
	TotalCoinsDeducted int64      `json:"total_coins_deducted" db:"total_coins_deducted"`
}

func (c Call) IsParticipant(accountID string) bool {
	return accountID != "" && (accountID == c.UserID || accountID == c.ResponderID)
}

// Counterpart returns the other party of the call.
func (c Call) Counterpart(accountID string) string {
	if accountID == c.UserID {
		return c.ResponderID
	}
	return c.UserID
}

// MaxDuration is zero when the call is uncapped.
func (c Call) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallTypeAudio || t == CallTypeVideo }

// Channel maps the call type to its billing channel.
func (t CallType) Channel() pricing.Channel {
	if t == CallTypeVideo {
		return pricing.ChannelVideo
	}
	return pricing.ChannelAudio
}

type Status string

const (
	StatusRinging    Status = "RINGING"
	StatusConnecting Status = "CONNECTING"
	StatusActive     Status = "ACTIVE"
	StatusEnded      Status = "ENDED"
	StatusMissed     Status = "MISSED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusRejected, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// End reasons.
const (
	ReasonHangup              = "hangup"
	ReasonCancelled           = "cancelled"
	ReasonRejected            = "rejected"
	ReasonRingTimeout         = "ring_timeout"
	ReasonConnectTimeout      = "connect_timeout"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonMaxDuration         = "max_duration"
	ReasonMeterStalled        = "meter_stalled"
	ReasonOrphaned            = "orphaned"
)

// terminalFor maps a live status and end reason to the terminal status.
func terminalFor(from Status, reason string) Status {
	switch from {
	case StatusActive:
		return StatusEnded
	case StatusRinging:
		switch reason {
		case ReasonRingTimeout:
			return StatusMissed
		case ReasonRejected:
			return StatusRejected
		default:
			return StatusCancelled
		}
	case StatusConnecting:
		if reason == ReasonCancelled {
			return StatusCancelled
		}
		return StatusFailed
	default:
		return from
	}
}

// Session is what the caller receives from Initiate.
type Session struct {
	Call             Call      `json:"call"`
	Credential       string    `json:"credential"`
	CredentialExpiry time.Time `json:"credential_expires_at"`
}

var (
	ErrNotFound             = apperr.New(apperr.ErrNotFound, "call not found")
	ErrCallerNotFound       = apperr.New(apperr.ErrNotFound, "caller not found")
	ErrResponderNotFound    = apperr.New(apperr.ErrNotFound, "responder not found")
	ErrInvalidArgument      = apperr.New(apperr.ErrValidation, "invalid call request")
	ErrBusy                 = apperr.New(apperr.ErrConflict, "party already in a call")
	ErrResponderUnavailable = apperr.New(apperr.ErrConflict, "responder_unavailable")
	ErrInvalidTransition    = apperr.New(apperr.ErrConflict, "invalid call state transition")
	ErrNotParticipant       = apperr.New(apperr.ErrNotAuthorized, "not a participant of this call")
	ErrInsufficientFunds    = apperr.New(apperr.ErrInsufficientFunds, "balance below one billing unit")
)
