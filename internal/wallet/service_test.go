package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/rbac"

	"github.com/shopspring/decimal"
)

type staticConfig struct{ cfg pricing.CoinConfig }

func (s staticConfig) Current(ctx context.Context) (pricing.CoinConfig, error) { return s.cfg, nil }

func newTestService(t *testing.T, userBalance int64) (*Service, *MemoryStore) {
	t.Helper()
	accts := accounts.NewMemoryStore()
	accts.Seed(
		accounts.Account{ID: "u1", Role: rbac.RoleUser, Balance: userBalance},
		accounts.Account{ID: "r1", Role: rbac.RoleResponder},
	)
	store := NewMemoryStore(accts)
	cfg := pricing.CoinConfig{
		ResponderCommissionPct: 70,
		MinRedeemCoins:         100,
		CoinValue:              decimal.RequireFromString("0.25"),
		Currency:               "INR",
	}
	return NewService(store, staticConfig{cfg}, nil), store
}

func TestValidatePosting(t *testing.T) {
	if err := validatePosting("a", 1, TxTypeCall, "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	bad := []struct {
		account string
		amount  int64
		typ     TxType
		key     string
	}{
		{"", 1, TxTypeCall, "k"},
		{"a", 0, TxTypeCall, "k"},
		{"a", -5, TxTypeCall, "k"},
		{"a", 1, "gift", "k"},
		{"a", 1, TxTypeCall, ""},
	}
	for _, tc := range bad {
		if err := validatePosting(tc.account, tc.amount, tc.typ, tc.key); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%+v: expected ErrInvalidArgument, got %v", tc, err)
		}
	}
}

func TestDeductForCallMinute_SplitsAndIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, 100)
	ctx := context.Background()

	ch, err := svc.DeductForCallMinute(ctx, "u1", "r1", "call_1", 1, 10)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if ch.Balance() != 90 || ch.ResponderShare != 7 || ch.PlatformShare != 3 || ch.Replayed {
		t.Fatalf("unexpected charge %+v", ch)
	}

	again, err := svc.DeductForCallMinute(ctx, "u1", "r1", "call_1", 1, 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.Payer.ID != ch.Payer.ID || again.ResponderShare != 7 {
		t.Fatalf("expected replay of original, got %+v", again)
	}

	bal, _ := svc.Balance(ctx, "u1")
	if bal != 90 {
		t.Fatalf("expected single charge, balance %d", bal)
	}
	e, _ := svc.Earnings(ctx, "r1")
	if e.PendingCoins != 7 || e.TotalCoins != 7 {
		t.Fatalf("unexpected earnings %+v", e)
	}
	charged, _ := svc.ChargedFor(ctx, "u1", "call_1")
	if charged != 10 {
		t.Fatalf("expected 10 charged, got %d", charged)
	}
}

func TestDeduct_InsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService(t, 5)
	ctx := context.Background()

	_, err := svc.DeductForCallMinute(ctx, "u1", "r1", "call_1", 1, 10)
	if !errors.Is(err, ErrInsufficientFunds) || apperr.KindOf(err) != apperr.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, _ := svc.Balance(ctx, "u1")
	if bal != 5 {
		t.Fatalf("balance changed: %d", bal)
	}
	txns, _ := svc.Transactions(ctx, "u1", time.Time{}, 10)
	if len(txns) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(txns))
	}
	e, _ := svc.Earnings(ctx, "r1")
	if e.PendingCoins != 0 {
		t.Fatalf("responder credited on failed debit")
	}
}

func TestDeduct_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.DeductForCallMinute(ctx, "u1", "r1", "call_1", n, 10); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	bal, _ := svc.Balance(ctx, "u1")
	if ok != 5 || bal != 0 {
		t.Fatalf("expected 5 successful debits and zero balance, got %d and %d", ok, bal)
	}
}

func TestCreditAndPurchase(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	tx, err := svc.Purchase(ctx, "u1", 500, "order-1")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if tx.Amount != 500 || tx.BalanceAfter != 500 || tx.Type != TxTypePurchase {
		t.Fatalf("unexpected txn %+v", tx)
	}
	if _, err := svc.Purchase(ctx, "u1", 500, "order-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	bal, _ := svc.Balance(ctx, "u1")
	if bal != 500 {
		t.Fatalf("purchase applied twice: %d", bal)
	}
	if _, err := svc.Credit(ctx, "ghost", 1, TxTypeAdjustment, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedemptionLifecycle(t *testing.T) {
	svc, _ := newTestService(t, 1000)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		if _, err := svc.DeductForCallMinute(ctx, "u1", "r1", "call_1", i, 10); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	// 20 ticks * 7 coins.
	if _, err := svc.RequestRedemption(ctx, "r1", 50); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	if _, err := svc.RequestRedemption(ctx, "r1", 200); !errors.Is(err, ErrInsufficientEarnings) {
		t.Fatalf("expected insufficient earnings, got %v", err)
	}

	r, err := svc.RequestRedemption(ctx, "r1", 100)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !r.Amount.Equal(decimal.RequireFromString("25")) || r.Status != RedemptionLocked {
		t.Fatalf("unexpected redemption %+v", r)
	}
	e, _ := svc.Earnings(ctx, "r1")
	if e.PendingCoins != 40 || e.LockedCoins != 100 {
		t.Fatalf("unexpected earnings %+v", e)
	}

	if _, err := svc.SettleRedemption(ctx, r.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.CancelRedemption(ctx, r.ID); !errors.Is(err, ErrRedemptionClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	e, _ = svc.Earnings(ctx, "r1")
	if e.LockedCoins != 0 || e.RedeemedCoins != 100 || e.TotalCoins != 140 {
		t.Fatalf("unexpected earnings %+v", e)
	}
}

func TestCancelRedemptionReturnsToPending(t *testing.T) {
	svc, _ := newTestService(t, 1000)
	ctx := context.Background()
	for i := 1; i <= 15; i++ {
		_, _ = svc.DeductForChat(ctx, "u1", "r1", "msg_"+string(rune('a'+i)), 10)
	}
	r, err := svc.RequestRedemption(ctx, "r1", 105)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := svc.CancelRedemption(ctx, r.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	e, _ := svc.Earnings(ctx, "r1")
	if e.PendingCoins != 105 || e.LockedCoins != 0 {
		t.Fatalf("unexpected earnings %+v", e)
	}
}
