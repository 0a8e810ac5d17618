package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

type fixedRepo struct {
	calls []calls.Call
	txns  []wallet.Transaction
}

func (r fixedRepo) ListCalls(ctx context.Context, accountID string, from, to time.Time) ([]calls.Call, error) {
	return r.calls, nil
}

func (r fixedRepo) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]wallet.Transaction, error) {
	return r.txns, nil
}

type staticRates struct{ cfg pricing.CoinConfig }

func (s staticRates) Current(ctx context.Context) (pricing.CoinConfig, error) { return s.cfg, nil }

func dayRange() TimeRange {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return TimeRange{From: from, To: from.Add(24 * time.Hour)}
}

func TestSummaries_RequireAccountAndRange(t *testing.T) {
	svc := NewService(fixedRepo{}, nil)
	ctx := context.Background()

	bad := []SummaryRequest{
		{Range: dayRange()},
		{AccountID: "u1"},
		{AccountID: "u1", Range: TimeRange{From: dayRange().To, To: dayRange().From}},
	}
	for _, req := range bad {
		if _, err := svc.CallsSummary(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
		if _, err := svc.CoinSummary(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
}

func TestCallsSummary_CountsByStatus(t *testing.T) {
	repo := fixedRepo{calls: []calls.Call{
		{Status: calls.StatusEnded, DurationSeconds: 90, CoinsCharged: 20},
		{Status: calls.StatusEnded, DurationSeconds: 30, CoinsCharged: 10},
		{Status: calls.StatusMissed},
		{Status: calls.StatusRejected},
		{Status: calls.StatusActive, DurationSeconds: 0},
	}}
	svc := NewService(repo, nil)

	got, err := svc.CallsSummary(context.Background(), SummaryRequest{AccountID: "u1", Range: dayRange()})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.TotalCalls != 5 || got.CompletedCalls != 2 || got.MissedCalls != 1 || got.RejectedCalls != 1 || got.InProgressCalls != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if got.TotalDurationSeconds != 120 || got.AverageDurationSeconds != 60 || got.CoinsCharged != 30 {
		t.Fatalf("unexpected totals %+v", got)
	}
}

func TestAccountSummary_FromLedger(t *testing.T) {
	repo := fixedRepo{txns: []wallet.Transaction{
		{AccountID: "r1", Bucket: wallet.BucketBalance, Type: wallet.TxTypePurchase, Amount: 500},
		{AccountID: "r1", Bucket: wallet.BucketBalance, Type: wallet.TxTypeChat, Amount: -5},
		{AccountID: "r1", Bucket: wallet.BucketEarnings, Type: wallet.TxTypeCall, Amount: 700},
		{AccountID: "r1", Bucket: wallet.BucketEarnings, Type: wallet.TxTypeChat, Amount: 300},
		{AccountID: "r1", Bucket: wallet.BucketEarnings, Type: wallet.TxTypeRedemption, Amount: -400},
		{AccountID: "r1", Bucket: wallet.BucketEarnings, Type: wallet.TxTypeRedemption, Amount: 100},
		{AccountID: "other", Bucket: wallet.BucketBalance, Type: wallet.TxTypePurchase, Amount: 999},
	}}
	rates := staticRates{pricing.CoinConfig{CoinValue: decimal.RequireFromString("0.25"), Currency: "INR"}}
	svc := NewService(repo, rates)

	got, err := svc.AccountSummary(context.Background(), SummaryRequest{AccountID: "r1", Range: dayRange()})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	c := got.Coins
	if c.PurchasedCoins != 500 || c.SpentOnChat != 5 || c.NetBalanceDelta != 495 {
		t.Fatalf("unexpected balance figures %+v", c)
	}
	if c.EarnedFromCalls != 700 || c.EarnedFromChat != 300 || c.RedeemedCoins != 300 {
		t.Fatalf("unexpected earnings figures %+v", c)
	}
	if !got.EarnedValue.Equal(decimal.RequireFromString("250")) || got.Currency != "INR" {
		t.Fatalf("unexpected value %s %s", got.EarnedValue, got.Currency)
	}
}

func TestSources_DelegatesToCallsAndLedger(t *testing.T) {
	var gotLimit int
	src := Sources{
		Calls: callListerFunc(func(accountID string, limit int) []calls.Call {
			gotLimit = limit
			return []calls.Call{{ID: "call_1", UserID: accountID}}
		}),
		Ledger: ledgerFunc(func(accountID string) []wallet.Transaction {
			return []wallet.Transaction{{AccountID: accountID}}
		}),
	}
	r := dayRange()
	cs, _ := src.ListCalls(context.Background(), "u1", r.From, r.To)
	txns, _ := src.ListTransactions(context.Background(), "u1", r.From, r.To)
	if len(cs) != 1 || cs[0].UserID != "u1" || gotLimit != maxReportCalls || len(txns) != 1 {
		t.Fatalf("unexpected delegation %+v %+v", cs, txns)
	}
}

type callListerFunc func(accountID string, limit int) []calls.Call

func (f callListerFunc) ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]calls.Call, error) {
	return f(accountID, limit), nil
}

type ledgerFunc func(accountID string) []wallet.Transaction

func (f ledgerFunc) TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]wallet.Transaction, error) {
	return f(accountID), nil
}
