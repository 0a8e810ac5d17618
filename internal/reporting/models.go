package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest scopes a report to one account and a half-open time range.
type SummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type CallsSummary struct {
	AccountID string `json:"account_id"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	MissedCalls     int `json:"missed_calls"`
	RejectedCalls   int `json:"rejected_calls"`
	CancelledCalls  int `json:"cancelled_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	CoinsCharged int64 `json:"coins_charged"`
}

// CoinSummary is derived from the immutable transaction ledger only.
type CoinSummary struct {
	AccountID string `json:"account_id"`

	PurchasedCoins  int64 `json:"purchased_coins"`
	OtherCredits    int64 `json:"other_credits"`
	SpentOnCalls    int64 `json:"spent_on_calls"`
	SpentOnChat     int64 `json:"spent_on_chat"`
	NetBalanceDelta int64 `json:"net_balance_delta"`

	EarnedFromCalls int64 `json:"earned_from_calls"`
	EarnedFromChat  int64 `json:"earned_from_chat"`
	RedeemedCoins   int64 `json:"redeemed_coins"`
}

type AccountSummary struct {
	AccountID string       `json:"account_id"`
	Range     TimeRange    `json:"range"`
	Calls     CallsSummary `json:"calls"`
	Coins     CoinSummary  `json:"coins"`

	// EarnedValue converts earned coins at the active coin value.
	EarnedValue decimal.Decimal `json:"earned_value"`
	Currency    string          `json:"currency,omitempty"`
}
