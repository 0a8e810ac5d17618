package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/ids"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/rbac"
	"callcoin-platform/internal/signaling"
	"callcoin-platform/internal/wallet"
)

// Realtime event types sent to call parties.
const (
	EventIncomingCall       = "incoming_call"
	EventCallStatus         = "call_status"
	EventCoinBalanceUpdated = "coin_balance_updated"
)

type AccountReader interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

// Biller is the slice of the wallet ledger the call lifecycle needs.
type Biller interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	DeductForCallMinute(ctx context.Context, userID, responderID, callID string, tick int, amount int64) (wallet.Charge, error)
	ChargedFor(ctx context.Context, accountID, entityID string) (int64, error)
}

type RateResolver interface {
	Current(ctx context.Context) (pricing.CoinConfig, error)
}

// Scheduler enqueues delayed call work. Implementations may be unavailable;
// the reaper covers anything that was not scheduled.
type Scheduler interface {
	ScheduleTick(ctx context.Context, callID string, n int, at time.Time) error
	ScheduleConnectTimeout(ctx context.Context, callID string, at time.Time) error
}

// Notifier delivers realtime events to an account. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, accountID, eventType string, data any) error
}

type CredentialIssuer interface {
	Issue(subject, room string, privs signaling.Privilege, now time.Time) (string, time.Time, error)
}

type Deps struct {
	Store       Store
	Accounts    AccountReader
	Biller      Biller
	Rates       RateResolver
	Scheduler   Scheduler
	Notifier    Notifier
	Credentials CredentialIssuer
	Log         *slog.Logger

	TickInterval   time.Duration
	ConnectTimeout time.Duration
}

// Service runs the call session state machine:
// RINGING -> CONNECTING -> ACTIVE -> {ENDED, MISSED, REJECTED, CANCELLED, FAILED}.
type Service struct {
	store       Store
	accounts    AccountReader
	biller      Biller
	rates       RateResolver
	scheduler   Scheduler
	notifier    Notifier
	credentials CredentialIssuer
	log         *slog.Logger
	clock       func() time.Time

	interval       time.Duration
	connectTimeout time.Duration
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.TickInterval <= 0 {
		d.TickInterval = time.Minute
	}
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = 30 * time.Second
	}
	return &Service{
		store:          d.Store,
		accounts:       d.Accounts,
		biller:         d.Biller,
		rates:          d.Rates,
		scheduler:      d.Scheduler,
		notifier:       d.Notifier,
		credentials:    d.Credentials,
		log:            d.Log,
		clock:          time.Now,
		interval:       d.TickInterval,
		connectTimeout: d.ConnectTimeout,
	}
}

// TickInterval is the billing unit length.
func (s *Service) TickInterval() time.Duration { return s.interval }

// Initiate creates a RINGING call from userID to responderID.
func (s *Service) Initiate(ctx context.Context, userID, responderID string, typ CallType) (Session, error) {
	if userID == "" || responderID == "" || userID == responderID || !typ.Valid() {
		return Session{}, ErrInvalidArgument
	}

	responder, err := s.accounts.Get(ctx, responderID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Session{}, ErrResponderNotFound
		}
		return Session{}, err
	}
	if responder.IsDeleted() || responder.Role != rbac.RoleResponder {
		return Session{}, ErrResponderNotFound
	}
	if !responder.IsOnline || !channelEnabled(responder, typ) {
		return Session{}, ErrResponderUnavailable
	}
	if responder.InCall {
		return Session{}, ErrBusy
	}

	cfg, err := s.rates.Current(ctx)
	if err != nil {
		return Session{}, err
	}
	rate, err := cfg.RateFor(typ.Channel())
	if err != nil {
		return Session{}, err
	}
	balance, err := s.biller.Balance(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if balance < rate {
		return Session{}, ErrInsufficientFunds
	}

	now := s.clock().UTC()
	id := ids.New(ids.PrefixCall)
	c := Call{
		ID:                 id,
		UserID:             userID,
		ResponderID:        responderID,
		Type:               typ,
		Status:             StatusRinging,
		RoomID:             "call-" + id,
		CreatedAt:          now,
		UpdatedAt:          now,
		MaxDurationSeconds: cfg.MaxCallDurationSeconds,
	}

	privs := signaling.ForCall(string(typ))
	userCred, userExp, err := s.credentials.Issue(userID, c.RoomID, privs, now)
	if err != nil {
		return Session{}, fmt.Errorf("issue caller credential: %w", err)
	}
	responderCred, responderExp, err := s.credentials.Issue(responderID, c.RoomID, privs, now)
	if err != nil {
		return Session{}, fmt.Errorf("issue responder credential: %w", err)
	}

	c, err = s.store.CreateRinging(ctx, c)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("call initiated", "call_id", c.ID, "user_id", userID, "responder_id", responderID, "type", typ)

	s.notify(ctx, responderID, EventIncomingCall, Session{Call: c, Credential: responderCred, CredentialExpiry: responderExp})
	return Session{Call: c, Credential: userCred, CredentialExpiry: userExp}, nil
}

func channelEnabled(a accounts.Account, typ CallType) bool {
	if typ == CallTypeVideo {
		return a.VideoEnabled
	}
	return a.AudioEnabled
}

// Accept moves RINGING to CONNECTING. Only the call's responder may accept.
func (s *Service) Accept(ctx context.Context, callID, responderID string) (Call, error) {
	now := s.clock().UTC()
	c, err := s.store.Update(ctx, callID, func(c *Call) error {
		if c.ResponderID != responderID {
			return ErrNotParticipant
		}
		if c.Status != StatusRinging {
			return ErrInvalidTransition
		}
		c.Status = StatusConnecting
		c.AcceptedAt = &now
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Call{}, err
	}

	if err := s.scheduler.ScheduleConnectTimeout(ctx, c.ID, now.Add(s.connectTimeout)); err != nil {
		s.log.Warn("connect timeout not scheduled; reaper will cover it", "call_id", c.ID, "err", err)
	}
	s.notifyStatus(ctx, c)
	return c, nil
}

// Reject moves RINGING to REJECTED. Only the call's responder may reject.
func (s *Service) Reject(ctx context.Context, callID, responderID string) (Call, error) {
	return s.finishByParty(ctx, callID, responderID, ReasonRejected, func(c Call) error {
		if c.ResponderID != responderID {
			return ErrNotParticipant
		}
		if c.Status != StatusRinging {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Cancel lets the caller abandon a RINGING or CONNECTING call.
func (s *Service) Cancel(ctx context.Context, callID, userID string) (Call, error) {
	return s.finishByParty(ctx, callID, userID, ReasonCancelled, func(c Call) error {
		if c.UserID != userID {
			return ErrNotParticipant
		}
		if c.Status != StatusRinging && c.Status != StatusConnecting {
			return ErrInvalidTransition
		}
		return nil
	})
}

func (s *Service) finishByParty(ctx context.Context, callID, actorID, reason string, check func(Call) error) (Call, error) {
	now := s.clock().UTC()
	c, changed, err := s.store.Finish(ctx, callID, func(c *Call) error {
		if err := check(*c); err != nil {
			return err
		}
		applyEnd(c, reason, now)
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	if !changed {
		if !c.IsParticipant(actorID) {
			return Call{}, ErrNotParticipant
		}
		return Call{}, ErrInvalidTransition
	}
	s.log.Info("call finished", "call_id", c.ID, "status", c.Status, "reason", reason)
	s.notifyStatus(ctx, c)
	return c, nil
}

// Confirm moves CONNECTING to ACTIVE once the media session is up and starts
// the meter. Confirming an ACTIVE call again returns it unchanged.
func (s *Service) Confirm(ctx context.Context, callID, requesterID string) (Call, error) {
	cur, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !cur.IsParticipant(requesterID) {
		return Call{}, ErrNotParticipant
	}
	if cur.Status == StatusActive {
		return cur, nil
	}

	cfg, err := s.rates.Current(ctx)
	if err != nil {
		return Call{}, err
	}
	rate, err := cfg.RateFor(cur.Type.Channel())
	if err != nil {
		return Call{}, err
	}
	balance, err := s.biller.Balance(ctx, cur.UserID)
	if err != nil {
		return Call{}, err
	}

	now := s.clock().UTC()
	c, err := s.store.Update(ctx, callID, func(c *Call) error {
		if c.Status != StatusConnecting {
			return ErrInvalidTransition
		}
		c.Status = StatusActive
		c.StartedAt = &now
		c.Meter.LastTickAt = &now
		c.RatePerMinute = rate
		c.ScheduledEndAt = projectEnd(*c, balance, rate, s.interval)
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Call{}, err
	}

	if err := s.scheduler.ScheduleTick(ctx, c.ID, 1, now.Add(s.interval)); err != nil {
		s.log.Warn("tick not scheduled; reaper will catch up", "call_id", c.ID, "tick", 1, "err", err)
	}
	s.log.Info("call active", "call_id", c.ID, "rate", rate)
	s.notifyStatus(ctx, c)
	return c, nil
}

// ExpireConnecting fails a call still CONNECTING when the connect timeout fires.
// Calls in any other state are returned unchanged.
func (s *Service) ExpireConnecting(ctx context.Context, callID string) (Call, error) {
	now := s.clock().UTC()
	c, changed, err := s.store.Finish(ctx, callID, func(c *Call) error {
		if c.Status != StatusConnecting {
			return errNotApplicable
		}
		applyEnd(c, ReasonConnectTimeout, now)
		return nil
	})
	if errors.Is(err, errNotApplicable) {
		return s.store.Get(ctx, callID)
	}
	if err != nil {
		return Call{}, err
	}
	if changed {
		s.log.Info("call connect timeout", "call_id", c.ID)
		s.notifyStatus(ctx, c)
	}
	return c, nil
}

var errNotApplicable = errors.New("transition not applicable")

// End terminates a live call. It is idempotent: ending a terminal call returns
// it unchanged with no side effects.
//
// For ACTIVE calls the partial billing unit is reconciled through the ledger
// with the same per-unit idempotency keys the meter uses, so a tick racing
// with End is charged once.
func (s *Service) End(ctx context.Context, callID, reason string) (Call, error) {
	cur, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if cur.Status.IsTerminal() {
		return cur, nil
	}

	now := s.clock().UTC()
	if cur.Status == StatusActive && cur.StartedAt != nil {
		if err := s.reconcile(ctx, cur, now); err != nil {
			return Call{}, err
		}
	}
	return s.finish(ctx, callID, reason, now)
}

// EndAsParticipant is End restricted to the call's parties.
func (s *Service) EndAsParticipant(ctx context.Context, callID, requesterID string) (Call, error) {
	cur, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !cur.IsParticipant(requesterID) {
		return Call{}, ErrNotParticipant
	}
	reason := ReasonHangup
	if cur.Status == StatusRinging && requesterID == cur.ResponderID {
		reason = ReasonRejected
	}
	return s.End(ctx, callID, reason)
}

// ForceEnd terminates a call still in status from at endedAt, without
// reconciliation. The reaper uses it for timeouts and stalled meters, where
// the stall is not billed. changed is false when the call moved on meanwhile,
// including an ACTIVE call whose meter ticked after endedAt.
func (s *Service) ForceEnd(ctx context.Context, callID string, from Status, reason string, endedAt time.Time) (Call, bool, error) {
	c, changed, err := s.store.Finish(ctx, callID, func(c *Call) error {
		if c.Status != from {
			return errNotApplicable
		}
		// The meter claimed a unit after the point the caller saw it stall.
		if from == StatusActive && c.Meter.LastTickAt != nil && c.Meter.LastTickAt.After(endedAt) {
			return errNotApplicable
		}
		applyEnd(c, reason, endedAt)
		c.UpdatedAt = s.clock().UTC()
		return nil
	})
	if errors.Is(err, errNotApplicable) {
		return Call{}, false, nil
	}
	if err != nil || !changed {
		return c, changed, err
	}
	c = s.recordCharged(ctx, c)
	s.log.Warn("call force-ended", "call_id", c.ID, "status", c.Status, "reason", reason)
	s.notifyStatus(ctx, c)
	return c, true, nil
}

func (s *Service) reconcile(ctx context.Context, c Call, now time.Time) error {
	elapsed := now.Sub(*c.StartedAt)
	if limit := c.MaxDuration(); limit > 0 && elapsed > limit {
		elapsed = limit
	}
	due := pricing.BillableUnits(elapsed, s.interval)
	if due <= c.Meter.TickCount {
		return nil
	}

	rate, err := s.UnitRate(ctx, c)
	if err != nil {
		return err
	}
	for n := c.Meter.TickCount + 1; n <= due; n++ {
		_, err := s.biller.DeductForCallMinute(ctx, c.UserID, c.ResponderID, c.ID, n, rate)
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			s.log.Info("reconciliation stopped at balance", "call_id", c.ID, "tick", n)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reconcile tick %d: %w", n, err)
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context, callID, reason string, now time.Time) (Call, error) {
	c, changed, err := s.store.Finish(ctx, callID, func(c *Call) error {
		applyEnd(c, reason, now)
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	if !changed {
		return c, nil
	}
	c = s.recordCharged(ctx, c)
	s.log.Info("call ended", "call_id", c.ID, "status", c.Status, "reason", reason, "duration", c.DurationSeconds, "coins", c.CoinsCharged)
	s.notifyStatus(ctx, c)
	return c, nil
}

// recordCharged copies the ledger total for the call onto the record.
func (s *Service) recordCharged(ctx context.Context, c Call) Call {
	if c.StartedAt == nil {
		return c
	}
	charged, err := s.biller.ChargedFor(ctx, c.UserID, c.ID)
	if err != nil {
		s.log.Warn("charged total not recorded", "call_id", c.ID, "err", err)
		return c
	}
	updated, err := s.store.Update(ctx, c.ID, func(c *Call) error {
		// Ledger totals only grow; a late read must not lower the record.
		c.CoinsCharged = max(c.CoinsCharged, charged)
		return nil
	})
	if err != nil {
		s.log.Warn("charged total not recorded", "call_id", c.ID, "err", err)
		return c
	}
	return updated
}

// applyEnd sets the terminal fields. Duration runs from StartedAt to endedAt
// and is capped at the call's maximum.
func applyEnd(c *Call, reason string, endedAt time.Time) {
	c.Status = terminalFor(c.Status, reason)
	c.EndReason = reason
	c.EndedAt = &endedAt
	c.UpdatedAt = endedAt
	c.ScheduledEndAt = nil
	if c.StartedAt != nil {
		d := endedAt.Sub(*c.StartedAt)
		if limit := c.MaxDuration(); limit > 0 && d > limit {
			d = limit
		}
		if d < 0 {
			d = 0
		}
		c.DurationSeconds = int(d / time.Second)
	}
}

// UnitRate is the per-unit price of c: the rate locked when it went ACTIVE,
// or the current rate for records that predate the lock.
func (s *Service) UnitRate(ctx context.Context, c Call) (int64, error) {
	if c.RatePerMinute > 0 {
		return c.RatePerMinute, nil
	}
	cfg, err := s.rates.Current(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.RateFor(c.Type.Channel())
}

// ClaimTick reserves billing unit n before it is charged. ok is false when the
// call is no longer ACTIVE or n is not the next unit; the caller must not
// charge then. A claimed unit advances LastTickAt, so a stall sweep that
// looked earlier leaves the call alone.
func (s *Service) ClaimTick(ctx context.Context, callID string, n int) (Call, bool, error) {
	now := s.clock().UTC()
	c, err := s.store.Update(ctx, callID, func(c *Call) error {
		if c.Status != StatusActive || c.Meter.TickCount != n-1 {
			return errNotApplicable
		}
		c.Meter.TickCount = n
		c.Meter.LastTickAt = &now
		c.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNotApplicable) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

// SettleTick copies the ledger total for the call onto the record after a
// claimed unit was charged. It applies to calls that ended while the charge
// was in flight too, so the record never disagrees with the ledger.
func (s *Service) SettleTick(ctx context.Context, callID string, charge wallet.Charge, rate int64) (Call, error) {
	cur, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	charged, err := s.biller.ChargedFor(ctx, cur.UserID, callID)
	if err != nil {
		return Call{}, err
	}
	return s.store.Update(ctx, callID, func(c *Call) error {
		c.Meter.TotalCoinsDeducted = max(c.Meter.TotalCoinsDeducted, charged)
		if c.Status.IsTerminal() {
			c.CoinsCharged = max(c.CoinsCharged, charged)
			return nil
		}
		c.ScheduledEndAt = projectEnd(*c, charge.Balance(), rate, s.interval)
		return nil
	})
}

// projectEnd estimates when the balance runs out, capped by the maximum duration.
func projectEnd(c Call, balance, rate int64, interval time.Duration) *time.Time {
	if c.StartedAt == nil || rate <= 0 {
		return nil
	}
	units := c.Meter.TickCount + int(balance/rate)
	end := c.StartedAt.Add(time.Duration(units) * interval)
	if limit := c.MaxDuration(); limit > 0 {
		if capped := c.StartedAt.Add(limit); capped.Before(end) {
			end = capped
		}
	}
	return &end
}

// Lookup returns a call without an access check. For internal callers.
func (s *Service) Lookup(ctx context.Context, callID string) (Call, error) {
	return s.store.Get(ctx, callID)
}

// Get returns a call to one of its parties or an admin.
func (s *Service) Get(ctx context.Context, callID, requesterID, role string) (Call, error) {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !c.IsParticipant(requesterID) && !rbac.IsAdmin(role) {
		return Call{}, ErrNotParticipant
	}
	return c, nil
}

func (s *Service) ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Call, error) {
	return s.store.ListForAccount(ctx, accountID, from, to, limit)
}

func (s *Service) notifyStatus(ctx context.Context, c Call) {
	s.notify(ctx, c.UserID, EventCallStatus, c)
	s.notify(ctx, c.ResponderID, EventCallStatus, c)
}

func (s *Service) notify(ctx context.Context, accountID, eventType string, data any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, eventType, data); err != nil {
		s.log.Debug("notify failed", "account_id", accountID, "event", eventType, "err", err)
	}
}
