package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Repository persists coin config versions.
// Activate must atomically deactivate the current version and insert next as
// the new active one with the next version number.
type Repository interface {
	Active(ctx context.Context) (CoinConfig, bool, error)
	Activate(ctx context.Context, next CoinConfig) (CoinConfig, error)
	History(ctx context.Context, limit int) ([]CoinConfig, error)
}

// Publisher fans a cache invalidation out to other processes.
type Publisher interface {
	PublishInvalidation(ctx context.Context, version int) error
}

// AuditSink records config changes.
type AuditSink interface {
	LogConfigChange(ctx context.Context, actorID string, version int, metadata string) error
}

// Service resolves the active coin config.
//
// The repository is the single authoritative source. The service keeps the
// active version in process and drops it on Invalidate (local update or a
// broadcast from another process). Env defaults seed the table only when no
// version exists yet.
type Service struct {
	repo     Repository
	defaults CoinConfig

	publisher Publisher
	audit     AuditSink
	log       *slog.Logger
	clock     func() time.Time

	loadMu sync.Mutex
	mu     sync.RWMutex
	cached *CoinConfig
	// gen counts invalidations; a load only caches if gen is unchanged.
	gen uint64
}

func NewService(repo Repository, defaults CoinConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, defaults: defaults, log: log, clock: time.Now}
}

// WithPublisher enables cross-process invalidation.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithAudit records every Update.
func (s *Service) WithAudit(a AuditSink) *Service {
	s.audit = a
	return s
}

// Current returns the active config, loading it on a cache miss.
func (s *Service) Current(ctx context.Context) (CoinConfig, error) {
	if c, ok := s.fromCache(); ok {
		return c, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if c, ok := s.fromCache(); ok {
		return c, nil
	}
	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	c, ok, err := s.repo.Active(ctx)
	if err != nil {
		return CoinConfig{}, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	if !ok {
		seed := s.defaults
		seed.CreatedBy = "system"
		seed.CreatedAt = s.clock().UTC()
		if err := seed.Validate(); err != nil {
			return CoinConfig{}, err
		}
		if c, err = s.repo.Activate(ctx, seed); err != nil {
			return CoinConfig{}, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
		}
		s.log.Info("coin config seeded from defaults", "version", c.Version)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cached = &c
	}
	s.mu.Unlock()
	return c, nil
}

// RateFor is Current followed by CoinConfig.RateFor.
func (s *Service) RateFor(ctx context.Context, ch Channel) (int64, error) {
	c, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	return c.RateFor(ch)
}

// Invalidate drops the cached version and any load still in flight; the
// next read reloads it.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

// Update activates next as a new version.
func (s *Service) Update(ctx context.Context, actorID string, next CoinConfig) (CoinConfig, error) {
	if err := next.Validate(); err != nil {
		return CoinConfig{}, err
	}
	next.ID = ""
	next.CreatedBy = actorID
	next.CreatedAt = s.clock().UTC()

	saved, err := s.repo.Activate(ctx, next)
	if err != nil {
		return CoinConfig{}, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	s.Invalidate()

	if s.publisher != nil {
		if err := s.publisher.PublishInvalidation(ctx, saved.Version); err != nil {
			// Other processes keep the old version until their next restart or publish.
			s.log.Warn("coin config invalidation publish failed", "version", saved.Version, "err", err)
		}
	}
	if s.audit != nil {
		meta := fmt.Sprintf(`{"version":%d,"responder_pct":%d}`, saved.Version, saved.ResponderCommissionPct)
		if err := s.audit.LogConfigChange(ctx, actorID, saved.Version, meta); err != nil {
			s.log.Warn("coin config audit failed", "version", saved.Version, "err", err)
		}
	}
	s.log.Info("coin config updated", "version", saved.Version, "actor", actorID)
	return saved, nil
}

func (s *Service) History(ctx context.Context, limit int) ([]CoinConfig, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.History(ctx, limit)
}

func (s *Service) fromCache() (CoinConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return CoinConfig{}, false
	}
	return *s.cached, true
}

// BillableUnits returns how many started units of length unit elapsed covers,
// rounding any partial unit up.
func BillableUnits(elapsed, unit time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	if unit <= 0 {
		unit = time.Minute
	}
	q := elapsed / unit
	if elapsed%unit != 0 {
		q++
	}
	return int(q)
}
