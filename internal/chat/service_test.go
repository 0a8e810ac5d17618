package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/rbac"
	"callcoin-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

type staticRates struct{ cfg pricing.CoinConfig }

func (s *staticRates) Current(ctx context.Context) (pricing.CoinConfig, error) { return s.cfg, nil }

type event struct {
	target string
	typ    string
	data   any
}

type fakeBus struct {
	mu        sync.Mutex
	published []event
	notified  []event
}

func (b *fakeBus) Publish(ctx context.Context, room, eventType string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event{room, eventType, data})
	return nil
}

func (b *fakeBus) Notify(ctx context.Context, accountID, eventType string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notified = append(b.notified, event{accountID, eventType, data})
	return nil
}

type harness struct {
	svc    *Service
	ledger *wallet.Service
	accts  *accounts.MemoryStore
	rates  *staticRates
	bus    *fakeBus
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	accts := accounts.NewMemoryStore()
	accts.Seed(
		accounts.Account{ID: "u1", Role: rbac.RoleUser, Balance: balance},
		accounts.Account{ID: "u2", Role: rbac.RoleUser, Balance: balance},
		accounts.Account{ID: "r1", Role: rbac.RoleResponder, ChatEnabled: true},
	)
	rates := &staticRates{cfg: pricing.CoinConfig{
		AudioCoinsPerMinute:    10,
		VideoCoinsPerMinute:    20,
		ChatCoinsPerMessage:    5,
		ChatEnabled:            true,
		ResponderCommissionPct: 70,
		CoinValue:              decimal.RequireFromString("0.25"),
		Currency:               "INR",
	}}
	ledger := wallet.NewService(wallet.NewMemoryStore(accts), rates, nil)
	bus := &fakeBus{}
	svc := NewService(NewMemoryStore(), accts, ledger, rates, bus, nil)
	return &harness{svc: svc, ledger: ledger, accts: accts, rates: rates, bus: bus}
}

func (h *harness) room(t *testing.T) Room {
	t.Helper()
	r, err := h.svc.OpenRoom(context.Background(), "u1", "r1")
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	return r
}

func TestOpenRoom_ReusesPair(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	a := h.room(t)
	b := h.room(t)
	if a.ID != b.ID {
		t.Fatalf("expected same room, got %s and %s", a.ID, b.ID)
	}
	if _, err := h.svc.OpenRoom(ctx, "u1", "u2"); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom for non-responder, got %v", err)
	}
	if _, err := h.svc.OpenRoom(ctx, "u1", "nobody"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSend_UserPaysAndResponderEarns(t *testing.T) {
	h := newHarness(t, 12)
	ctx := context.Background()
	r := h.room(t)

	m, err := h.svc.Send(ctx, "u1", r.ID, "  hello  ", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Body != "hello" || m.CoinsCharged != 5 || m.RecipientID != "r1" {
		t.Fatalf("unexpected message %+v", m)
	}
	bal, _ := h.ledger.Balance(ctx, "u1")
	if bal != 7 {
		t.Fatalf("expected balance 7, got %d", bal)
	}
	earn, _ := h.ledger.Earnings(ctx, "r1")
	if earn.PendingCoins != 3 {
		t.Fatalf("expected 3 pending coins, got %d", earn.PendingCoins)
	}
	if len(h.bus.published) != 1 || h.bus.published[0].target != r.ID || h.bus.published[0].typ != EventNewMessage {
		t.Fatalf("expected new_message on room, got %+v", h.bus.published)
	}
	if len(h.bus.notified) != 1 || h.bus.notified[0].typ != EventCoinBalanceUpdated {
		t.Fatalf("expected balance notification, got %+v", h.bus.notified)
	}
	if upd := h.bus.notified[0].data.(BalanceUpdate); upd.Balance != 7 || upd.CoinsDeducted != 5 {
		t.Fatalf("unexpected balance update %+v", upd)
	}

	reply, err := h.svc.Send(ctx, "r1", r.ID, "hi back", "")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.CoinsCharged != 0 || reply.RecipientID != "u1" {
		t.Fatalf("responder messages are free, got %+v", reply)
	}
}

func TestSend_InsufficientBalanceStoresNothing(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()
	r := h.room(t)

	_, err := h.svc.Send(ctx, "u1", r.ID, "hello", "")
	if apperr.KindOf(err) != apperr.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	msgs, _ := h.svc.ListMessages(ctx, r.ID, "u1", time.Time{}, 10)
	if len(msgs) != 0 || len(h.bus.published) != 0 {
		t.Fatalf("expected nothing stored or published, got %d messages", len(msgs))
	}
}

func TestSend_ClientIDMakesRetryIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	r := h.room(t)
	clientID := "0f1a7c4e-2b1d-4c9a-9a55-1b2c3d4e5f60"

	first, err := h.svc.Send(ctx, "u1", r.ID, "hello", clientID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	again, err := h.svc.Send(ctx, "u1", r.ID, "hello", clientID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	want, _ := MessageIDFor("u1", clientID)
	if first.ID != want || again.ID != first.ID {
		t.Fatalf("expected id %s reused, got %s and %s", want, first.ID, again.ID)
	}
	bal, _ := h.ledger.Balance(ctx, "u1")
	if bal != 95 {
		t.Fatalf("expected a single charge, balance %d", bal)
	}
	if len(h.bus.published) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(h.bus.published))
	}

	if _, err := h.svc.Send(ctx, "u1", r.ID, "hello", "not-a-uuid"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestSend_SameClientIDFromTwoUsersChargesEachOnce(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	clientID := "7d0c2a9e-5f4b-4e1e-8f3a-2c6b9d1e0a47"

	r1 := h.room(t)
	r2, err := h.svc.OpenRoom(ctx, "u2", "r1")
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	a, err := h.svc.Send(ctx, "u1", r1.ID, "from u1", clientID)
	if err != nil {
		t.Fatalf("u1 send: %v", err)
	}
	b, err := h.svc.Send(ctx, "u2", r2.ID, "from u2", clientID)
	if err != nil {
		t.Fatalf("u2 send: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("senders must not share a message id")
	}

	for _, acct := range []string{"u1", "u2"} {
		bal, _ := h.ledger.Balance(ctx, acct)
		if bal != 95 {
			t.Fatalf("%s: expected one charge, balance %d", acct, bal)
		}
	}
	for _, r := range []Room{r1, r2} {
		msgs, err := h.svc.ListMessages(ctx, r.ID, r.UserID, time.Time{}, 10)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("room %s: expected one stored message, got %d (%v)", r.ID, len(msgs), err)
		}
	}
}

func TestSend_Validation(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	r := h.room(t)

	if _, err := h.svc.Send(ctx, "u1", r.ID, "   ", ""); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected empty body rejected, got %v", err)
	}
	if _, err := h.svc.Send(ctx, "u1", r.ID, strings.Repeat("é", MaxBodyRunes+1), ""); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected long body rejected, got %v", err)
	}
	if _, err := h.svc.Send(ctx, "u1", r.ID, strings.Repeat("é", MaxBodyRunes), ""); err != nil {
		t.Fatalf("expected body at limit accepted, got %v", err)
	}
	if _, err := h.svc.Send(ctx, "u2", r.ID, "hi", ""); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := h.svc.Send(ctx, "u1", "room_missing", "hi", ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSend_ChatDisabled(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	r := h.room(t)

	off := false
	if _, err := h.accts.UpdateAvailability(ctx, "r1", accounts.Availability{Chat: &off}, time.Now()); err != nil {
		t.Fatalf("disable chat: %v", err)
	}
	if _, err := h.svc.Send(ctx, "u1", r.ID, "hi", ""); !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("expected ErrChatDisabled for responder, got %v", err)
	}

	on := true
	_, _ = h.accts.UpdateAvailability(ctx, "r1", accounts.Availability{Chat: &on}, time.Now())
	h.rates.cfg.ChatEnabled = false
	_, err := h.svc.Send(ctx, "u1", r.ID, "hi", "")
	if !errors.Is(err, ErrChatDisabled) || apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict when chat is off globally, got %v", err)
	}
	bal, _ := h.ledger.Balance(ctx, "u1")
	if bal != 100 {
		t.Fatalf("expected no charge, balance %d", bal)
	}
}

func TestListMessages_NewestFirstAndAuthorized(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	r := h.room(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		at := base.Add(time.Duration(i) * time.Second)
		h.svc.clock = func() time.Time { return at }
		if _, err := h.svc.Send(ctx, "u1", r.ID, body, ""); err != nil {
			t.Fatalf("send %s: %v", body, err)
		}
	}
	h.svc.clock = func() time.Time { return base.Add(time.Minute) }

	msgs, err := h.svc.ListMessages(ctx, r.ID, "r1", time.Time{}, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "three" || msgs[1].Body != "two" {
		t.Fatalf("unexpected page %+v", msgs)
	}
	older, _ := h.svc.ListMessages(ctx, r.ID, "r1", msgs[1].CreatedAt, 10)
	if len(older) != 1 || older[0].Body != "one" {
		t.Fatalf("unexpected older page %+v", older)
	}
	if _, err := h.svc.ListMessages(ctx, r.ID, "u2", time.Time{}, 10); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}
