// Package meter bills ACTIVE calls one unit at a time.
package meter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/wallet"
)

// Calls is the slice of the call service the meter drives.
type Calls interface {
	Lookup(ctx context.Context, callID string) (calls.Call, error)
	UnitRate(ctx context.Context, c calls.Call) (int64, error)
	ClaimTick(ctx context.Context, callID string, n int) (calls.Call, bool, error)
	SettleTick(ctx context.Context, callID string, charge wallet.Charge, rate int64) (calls.Call, error)
	End(ctx context.Context, callID, reason string) (calls.Call, error)
}

type Biller interface {
	DeductForCallMinute(ctx context.Context, userID, responderID, callID string, tick int, amount int64) (wallet.Charge, error)
}

type TickScheduler interface {
	ScheduleTick(ctx context.Context, callID string, n int, at time.Time) error
}

type Notifier interface {
	Notify(ctx context.Context, accountID, eventType string, data any) error
}

// BalanceUpdate is the coin_balance_updated payload.
type BalanceUpdate struct {
	CallID        string `json:"callId"`
	Balance       int64  `json:"balance"`
	CoinsDeducted int64  `json:"coinsDeducted"`
}

// EarningsUpdate is sent to the responder alongside BalanceUpdate.
type EarningsUpdate struct {
	CallID       string `json:"callId"`
	PendingCoins int64  `json:"pendingCoins"`
	CoinsEarned  int64  `json:"coinsEarned"`
}

type Meter struct {
	calls     Calls
	biller    Biller
	scheduler TickScheduler
	notifier  Notifier
	interval  time.Duration
	log       *slog.Logger
}

func New(c Calls, b Biller, s TickScheduler, n Notifier, interval time.Duration, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Meter{calls: c, biller: b, scheduler: s, notifier: n, interval: interval, log: log}
}

// Tick bills unit n of callID.
//
// The unit is claimed on the call before the ledger is touched, so a call
// that ended or stalled out is never charged. Ticks for calls that are not
// ACTIVE, and ticks whose index is neither the next nor the claimed unit, are
// no-ops. Only ledger or store failures are returned; the caller may retry
// them because the charge is keyed by (call, n).
func (m *Meter) Tick(ctx context.Context, callID string, n int) error {
	log := m.log.With("call_id", callID, "tick", n)

	c, err := m.calls.Lookup(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Debug("tick for unknown call dropped")
			return nil
		}
		return err
	}
	if c.Status != calls.StatusActive || (c.Meter.TickCount != n-1 && c.Meter.TickCount != n) {
		log.Debug("stale tick ignored", "status", c.Status, "tick_count", c.Meter.TickCount)
		return nil
	}

	rate, err := m.calls.UnitRate(ctx, c)
	if err != nil {
		return err
	}

	if c.Meter.TickCount == n-1 {
		claimed, ok, err := m.calls.ClaimTick(ctx, c.ID, n)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("tick claimed elsewhere or call ended")
			return nil
		}
		c = claimed
	}

	charge, err := m.biller.DeductForCallMinute(ctx, c.UserID, c.ResponderID, c.ID, n, rate)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		log.Info("balance exhausted; ending call")
		_, err := m.calls.End(ctx, c.ID, calls.ReasonInsufficientBalance)
		return err
	}
	if err != nil {
		return err
	}

	c, err = m.calls.SettleTick(ctx, c.ID, charge, rate)
	if err != nil {
		return err
	}

	if !charge.Replayed {
		m.notify(ctx, c.UserID, BalanceUpdate{CallID: c.ID, Balance: charge.Balance(), CoinsDeducted: charge.Amount()})
		if charge.Earning != nil {
			m.notify(ctx, c.ResponderID, EarningsUpdate{CallID: c.ID, PendingCoins: charge.Earning.BalanceAfter, CoinsEarned: charge.ResponderShare})
		}
	}
	if c.Status.IsTerminal() {
		log.Debug("call ended while the unit was charged")
		return nil
	}

	if limit := c.MaxDuration(); limit > 0 && time.Duration(n)*m.interval >= limit {
		log.Info("max duration reached; ending call")
		_, err := m.calls.End(ctx, c.ID, calls.ReasonMaxDuration)
		return err
	}

	next := c.StartedAt.Add(time.Duration(n+1) * m.interval)
	if err := m.scheduler.ScheduleTick(ctx, c.ID, n+1, next); err != nil {
		log.Warn("next tick not scheduled; reaper will catch up", "err", err)
	}
	return nil
}

func (m *Meter) notify(ctx context.Context, accountID string, data any) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, accountID, calls.EventCoinBalanceUpdated, data); err != nil {
		m.log.Debug("balance notify failed", "account_id", accountID, "err", err)
	}
}
