package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callcoin-platform/internal/ids"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service logs internal audit information.
//
// Audit is internal-only and callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.AccountID == "" && e.ActorID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = ids.New(ids.PrefixAudit)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.Recent(ctx, limit)
}

// LogForcedEnd records a terminal transition made by the reaper.
func (s *Service) LogForcedEnd(ctx context.Context, callID, status, reason string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeCallForceEnded,
		ActorID:  ActorReaper,
		CallID:   callID,
		Message:  fmt.Sprintf("call forced to %s", status),
		Metadata: fmt.Sprintf(`{"status":%q,"reason":%q}`, status, reason),
	})
}

// LogOrphanRemoved records the deletion of a call that referenced a missing account.
func (s *Service) LogOrphanRemoved(ctx context.Context, callID, userID, responderID string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeOrphanRemoved,
		ActorID:  ActorReaper,
		CallID:   callID,
		Message:  "orphaned call removed",
		Metadata: fmt.Sprintf(`{"user_id":%q,"responder_id":%q}`, userID, responderID),
	})
}

// LogInCallReleased records an inCall flag cleared with no live call behind it.
func (s *Service) LogInCallReleased(ctx context.Context, accountID string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeInCallReleased,
		ActorID:   ActorReaper,
		AccountID: accountID,
		Message:   "stale in-call flag cleared",
	})
}

// LogConfigChange records an admin coin config update.
func (s *Service) LogConfigChange(ctx context.Context, actorID string, version int, metadata string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeConfigChanged,
		ActorID:  actorID,
		Message:  fmt.Sprintf("coin config v%d activated", version),
		Metadata: metadata,
	})
}

// LogRedemptionClosed records an admin settling or cancelling a redemption.
func (s *Service) LogRedemptionClosed(ctx context.Context, actorID, responderID, redemptionID, status string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeRedemptionClosed,
		ActorID:   actorID,
		AccountID: responderID,
		Message:   fmt.Sprintf("redemption %s", status),
		Metadata:  fmt.Sprintf(`{"redemption_id":%q,"status":%q}`, redemptionID, status),
	})
}
