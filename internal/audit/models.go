package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is best-effort; callers never fail a billing or call flow on it.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorID is the account or process that caused the event ("reaper" for sweeps).
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`

	AccountID string `json:"account_id,omitempty" db:"account_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallForceEnded   EventType = "call_force_ended"
	EventTypeOrphanRemoved    EventType = "call_orphan_removed"
	EventTypeInCallReleased   EventType = "in_call_released"
	EventTypeConfigChanged    EventType = "coin_config_changed"
	EventTypeRedemptionClosed EventType = "redemption_closed"
)

// ActorReaper marks events written by the cleanup sweep.
const ActorReaper = "reaper"
