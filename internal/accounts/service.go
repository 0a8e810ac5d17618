package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callcoin-platform/internal/rbac"
)

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	UpdateAvailability(ctx context.Context, id string, av Availability, at time.Time) (Account, error)
	MarkDeleted(ctx context.Context, id string, at time.Time) error
}

// Broadcaster publishes a realtime event to a room.
type Broadcaster interface {
	Publish(ctx context.Context, room, eventType string, data any) error
}

// AvailabilityRoom receives responder_availability_update events.
const AvailabilityRoom = "responders"

const EventAvailabilityUpdate = "responder_availability_update"

type Service struct {
	store Store
	bus   Broadcaster
	log   *slog.Logger
	clock func() time.Time
}

func NewService(store Store, bus Broadcaster, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, bus: bus, log: log, clock: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.store.Get(ctx, id)
}

// Register creates an account. Identity verification happens upstream.
// Responders start offline with every channel enabled.
func (s *Service) Register(ctx context.Context, id, role string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: id required", ErrInvalidRole)
	}
	if !rbac.IsValidRole(role) {
		return Account{}, ErrInvalidRole
	}
	now := s.clock().UTC()
	return s.store.Create(ctx, Account{
		ID:           id,
		Role:         role,
		AudioEnabled: true,
		VideoEnabled: true,
		ChatEnabled:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// SetAvailability updates presence or channel flags and announces responder changes.
func (s *Service) SetAvailability(ctx context.Context, id string, av Availability) (Account, error) {
	a, err := s.store.UpdateAvailability(ctx, id, av, s.clock().UTC())
	if err != nil {
		return Account{}, err
	}
	if a.Role == rbac.RoleResponder && s.bus != nil {
		if err := s.bus.Publish(ctx, AvailabilityRoom, EventAvailabilityUpdate, AvailabilityEvent(a)); err != nil {
			s.log.Warn("availability broadcast failed", "account_id", id, "err", err)
		}
	}
	return a, nil
}

// SetOnline is the presence hook used by the realtime channel.
func (s *Service) SetOnline(ctx context.Context, id string, online bool) error {
	_, err := s.SetAvailability(ctx, id, Availability{Online: &online})
	return err
}

// Delete soft-deletes an account. Calls that reference it are cleaned up by the reaper.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.MarkDeleted(ctx, id, s.clock().UTC())
}

// AvailabilityEvent is the payload of responder_availability_update.
func AvailabilityEvent(a Account) map[string]any {
	return map[string]any{
		"responderId":  a.ID,
		"isOnline":     a.IsOnline,
		"inCall":       a.InCall,
		"audioEnabled": a.AudioEnabled,
		"videoEnabled": a.VideoEnabled,
		"chatEnabled":  a.ChatEnabled,
	}
}
