package wallet

import (
	"context"
	"time"
)

// Posting is one atomic ledger movement.
//
// A debit is applied as a single conditional decrement: it succeeds only if
// the balance covers Amount. When EarningAccountID is set, EarningAmount is
// credited to that responder's pending earnings in the same transaction.
type Posting struct {
	AccountID      string
	Amount         int64
	Debit          bool
	Type           TxType
	EntityID       string
	IdempotencyKey string

	EarningAccountID string
	EarningAmount    int64
}

// PostResult carries the entries written (or found, when Replayed).
type PostResult struct {
	Payer    Transaction
	Earning  *Transaction
	Replayed bool
}

// Store is the wallet persistence contract.
// Implementations must make Post atomic and idempotent on (AccountID, IdempotencyKey).
type Store interface {
	Post(ctx context.Context, p Posting, now time.Time) (PostResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	Transactions(ctx context.Context, accountID string, before time.Time, limit int) ([]Transaction, error)
	TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)

	// ChargedFor sums the coins debited from accountID's balance for entityID.
	ChargedFor(ctx context.Context, accountID, entityID string) (int64, error)

	Earnings(ctx context.Context, responderID string) (Earnings, error)
	LockForRedemption(ctx context.Context, r Redemption) (Redemption, error)
	CloseRedemption(ctx context.Context, id string, to RedemptionStatus, now time.Time) (Redemption, error)
	Redemptions(ctx context.Context, responderID string, limit int) ([]Redemption, error)
}
