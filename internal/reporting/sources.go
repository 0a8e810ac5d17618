package reporting

import (
	"context"
	"time"

	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/wallet"
)

type CallLister interface {
	ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]calls.Call, error)
}

type LedgerReader interface {
	TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]wallet.Transaction, error)
}

// maxReportCalls bounds a single summary.
const maxReportCalls = 10000

// Sources reads reports straight from the call records and the ledger.
type Sources struct {
	Calls  CallLister
	Ledger LedgerReader
}

func (s Sources) ListCalls(ctx context.Context, accountID string, from, to time.Time) ([]calls.Call, error) {
	return s.Calls.ListForAccount(ctx, accountID, from, to, maxReportCalls)
}

func (s Sources) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]wallet.Transaction, error) {
	return s.Ledger.TransactionsBetween(ctx, accountID, from, to)
}
