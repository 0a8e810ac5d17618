// Package reaper terminates calls that stopped making progress, catches up
// overdue meter ticks and repairs references to deleted accounts.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callcoin-platform/internal/calls"
)

type CallStore interface {
	ListStale(ctx context.Context, status calls.Status, before time.Time, limit int) ([]calls.Call, error)
	ListOrphans(ctx context.Context, limit int) ([]calls.Call, error)
	DeleteOrphan(ctx context.Context, id string) error
	ReleaseStaleInCall(ctx context.Context) ([]string, error)
}

type Terminator interface {
	ForceEnd(ctx context.Context, callID string, from calls.Status, reason string, endedAt time.Time) (calls.Call, bool, error)
}

type TickRunner interface {
	Tick(ctx context.Context, callID string, n int) error
}

type AuditLog interface {
	LogForcedEnd(ctx context.Context, callID, status, reason string) error
	LogOrphanRemoved(ctx context.Context, callID, userID, responderID string) error
	LogInCallReleased(ctx context.Context, accountID string) error
}

type Config struct {
	TickInterval   time.Duration
	ConnectTimeout time.Duration
	RingTimeout    time.Duration
	MissedTicks    int
	CatchUpGrace   time.Duration
	BatchSize      int
}

func (c Config) stallAfter() time.Duration {
	return time.Duration(c.MissedTicks) * c.TickInterval
}

type Deps struct {
	Store  CallStore
	Calls  Terminator
	Meter  TickRunner
	Audit  AuditLog
	Locker Locker
	Log    *slog.Logger
	Config Config
}

// Report counts what one sweep changed.
type Report struct {
	Missed   int `json:"missed"`
	Failed   int `json:"failed"`
	Stalled  int `json:"stalled"`
	CaughtUp int `json:"caught_up"`
	Orphans  int `json:"orphans"`
	Released int `json:"released"`
}

func (r Report) Changed() bool {
	return r.Missed+r.Failed+r.Stalled+r.CaughtUp+r.Orphans+r.Released > 0
}

type Reaper struct {
	store  CallStore
	calls  Terminator
	meter  TickRunner
	audit  AuditLog
	locker Locker
	log    *slog.Logger
	cfg    Config
}

func New(d Deps) *Reaper {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := d.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MissedTicks <= 0 {
		cfg.MissedTicks = 3
	}
	locker := d.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Reaper{
		store:  d.Store,
		calls:  d.Calls,
		meter:  d.Meter,
		audit:  d.Audit,
		locker: locker,
		log:    log,
		cfg:    cfg,
	}
}

// Sweep runs every cleanup step once. A failing step is logged and the
// remaining steps still run; the joined error is returned.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	var rep Report
	var errs []error

	n, err := r.expire(ctx, calls.StatusRinging, now.Add(-r.cfg.RingTimeout), calls.ReasonRingTimeout, now)
	rep.Missed = n
	errs = append(errs, err)

	n, err = r.expire(ctx, calls.StatusConnecting, now.Add(-r.cfg.ConnectTimeout), calls.ReasonConnectTimeout, now)
	rep.Failed = n
	errs = append(errs, err)

	n, err = r.endStalled(ctx, now)
	rep.Stalled = n
	errs = append(errs, err)

	n, err = r.catchUp(ctx, now)
	rep.CaughtUp = n
	errs = append(errs, err)

	n, err = r.removeOrphans(ctx)
	rep.Orphans = n
	errs = append(errs, err)

	n, err = r.releaseInCall(ctx)
	rep.Released = n
	errs = append(errs, err)

	if rep.Changed() {
		r.log.Info("sweep complete", "missed", rep.Missed, "failed", rep.Failed, "stalled", rep.Stalled,
			"caught_up", rep.CaughtUp, "orphans", rep.Orphans, "released", rep.Released)
	}
	return rep, errors.Join(errs...)
}

func (r *Reaper) expire(ctx context.Context, status calls.Status, before time.Time, reason string, now time.Time) (int, error) {
	stale, err := r.store.ListStale(ctx, status, before, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale %s: %w", status, err)
	}
	count := 0
	var errs []error
	for _, c := range stale {
		ok, err := r.forceEnd(ctx, c, status, reason, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// endStalled ends ACTIVE calls whose meter has missed MissedTicks units.
// The call is closed at its last tick and the stalled time is not billed.
func (r *Reaper) endStalled(ctx context.Context, now time.Time) (int, error) {
	stale, err := r.store.ListStale(ctx, calls.StatusActive, now.Add(-r.cfg.stallAfter()), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stalled: %w", err)
	}
	count := 0
	var errs []error
	for _, c := range stale {
		endedAt := now
		if c.Meter.LastTickAt != nil {
			endedAt = *c.Meter.LastTickAt
		}
		ok, err := r.forceEnd(ctx, c, calls.StatusActive, calls.ReasonMeterStalled, endedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			count++
		}
	}
	return count, errors.Join(errs...)
}

func (r *Reaper) forceEnd(ctx context.Context, c calls.Call, from calls.Status, reason string, endedAt time.Time) (bool, error) {
	ended, ok, err := r.calls.ForceEnd(ctx, c.ID, from, reason, endedAt)
	if err != nil {
		return false, fmt.Errorf("force end %s: %w", c.ID, err)
	}
	if !ok {
		return false, nil
	}
	if r.audit != nil {
		if err := r.audit.LogForcedEnd(ctx, ended.ID, string(ended.Status), reason); err != nil {
			r.log.Warn("audit write failed", "call_id", ended.ID, "err", err)
		}
	}
	return true, nil
}

// catchUp runs overdue ticks inline for ACTIVE calls below the stall threshold.
func (r *Reaper) catchUp(ctx context.Context, now time.Time) (int, error) {
	if r.meter == nil {
		return 0, nil
	}
	interval := r.cfg.TickInterval
	stale, err := r.store.ListStale(ctx, calls.StatusActive, now.Add(-interval-r.cfg.CatchUpGrace), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}
	count := 0
	var errs []error
	for _, c := range stale {
		if c.StartedAt == nil {
			continue
		}
		for i, n := 0, c.Meter.TickCount+1; i < r.cfg.MissedTicks; i, n = i+1, n+1 {
			due := c.StartedAt.Add(time.Duration(n) * interval)
			if !due.Add(r.cfg.CatchUpGrace).Before(now) {
				break
			}
			if err := r.meter.Tick(ctx, c.ID, n); err != nil {
				errs = append(errs, fmt.Errorf("catch up %s tick %d: %w", c.ID, n, err))
				break
			}
			count++
		}
	}
	return count, errors.Join(errs...)
}

func (r *Reaper) removeOrphans(ctx context.Context) (int, error) {
	orphans, err := r.store.ListOrphans(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list orphans: %w", err)
	}
	count := 0
	var errs []error
	for _, c := range orphans {
		if err := r.store.DeleteOrphan(ctx, c.ID); err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("delete orphan %s: %w", c.ID, err))
			continue
		}
		count++
		r.log.Warn("orphaned call removed", "call_id", c.ID, "user_id", c.UserID, "responder_id", c.ResponderID)
		if r.audit != nil {
			if err := r.audit.LogOrphanRemoved(ctx, c.ID, c.UserID, c.ResponderID); err != nil {
				r.log.Warn("audit write failed", "call_id", c.ID, "err", err)
			}
		}
	}
	return count, errors.Join(errs...)
}

func (r *Reaper) releaseInCall(ctx context.Context) (int, error) {
	released, err := r.store.ReleaseStaleInCall(ctx)
	if err != nil {
		return 0, fmt.Errorf("release in-call: %w", err)
	}
	for _, id := range released {
		r.log.Warn("stale in-call flag cleared", "account_id", id)
		if r.audit != nil {
			if err := r.audit.LogInCallReleased(ctx, id); err != nil {
				r.log.Warn("audit write failed", "account_id", id, "err", err)
			}
		}
	}
	return len(released), nil
}

// Run sweeps every interval until ctx is done. Each round only runs when this
// process holds the sweep lock.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case now := <-ticker.C:
			r.round(ctx, now, interval)
		}
	}
}

func (r *Reaper) round(ctx context.Context, now time.Time, interval time.Duration) {
	release, ok, err := r.locker.Acquire(ctx, 2*interval)
	if err != nil {
		r.log.Warn("sweep lock unavailable", "err", err)
		return
	}
	if !ok {
		r.log.Debug("sweep lock held elsewhere")
		return
	}
	defer release()

	if _, err := r.Sweep(ctx, now); err != nil {
		r.log.Error("sweep failed", "err", err)
	}
}
