package wallet

import (
	"fmt"
	"time"

	"callcoin-platform/internal/apperr"

	"github.com/shopspring/decimal"
)

// Transaction is an immutable append-only ledger entry.
// Any balance or earnings change has exactly one corresponding Transaction.
type Transaction struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Type   TxType `json:"type" db:"type"`
	Bucket Bucket `json:"bucket" db:"bucket"`

	// Amount is signed: debits are negative.
	Amount int64 `json:"amount" db:"amount"`

	// BalanceAfter is the bucket's value after this entry.
	BalanceAfter int64 `json:"balance_after" db:"balance_after"`

	// EntityID references the billed entity (call id, message id, order id).
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`

	// IdempotencyKey is unique per account.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TxType string

const (
	TxTypeCall       TxType = "call"
	TxTypeChat       TxType = "chat"
	TxTypePurchase   TxType = "purchase"
	TxTypePayout     TxType = "payout"
	TxTypeRedemption TxType = "redemption"
	TxTypeReferral   TxType = "referral"
	TxTypeAdjustment TxType = "adjustment"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeCall, TxTypeChat, TxTypePurchase, TxTypePayout, TxTypeRedemption, TxTypeReferral, TxTypeAdjustment:
		return true
	default:
		return false
	}
}

// Bucket names the value a Transaction moves.
type Bucket string

const (
	BucketBalance  Bucket = "balance"
	BucketEarnings Bucket = "earnings"
)

// Earnings tracks a responder's commission lifecycle:
// pending (redeemable) -> locked (redemption requested) -> redeemed (paid out).
type Earnings struct {
	ResponderID   string    `json:"responder_id" db:"responder_id"`
	TotalCoins    int64     `json:"total_coins" db:"total"`
	PendingCoins  int64     `json:"pending_coins" db:"pending"`
	LockedCoins   int64     `json:"locked_coins" db:"locked"`
	RedeemedCoins int64     `json:"redeemed_coins" db:"redeemed"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type Redemption struct {
	ID          string           `json:"id" db:"id"`
	ResponderID string           `json:"responder_id" db:"responder_id"`
	Coins       int64            `json:"coins" db:"coins"`
	Amount      decimal.Decimal  `json:"amount" db:"amount"`
	Currency    string           `json:"currency" db:"currency"`
	Status      RedemptionStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

type RedemptionStatus string

const (
	RedemptionLocked    RedemptionStatus = "locked"
	RedemptionSettled   RedemptionStatus = "settled"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// Charge is the outcome of a split deduction.
type Charge struct {
	Payer          Transaction  `json:"payer"`
	Earning        *Transaction `json:"earning,omitempty"`
	ResponderShare int64        `json:"responder_share"`
	PlatformShare  int64        `json:"platform_share"`
	Replayed       bool         `json:"replayed"`
}

// Balance is the payer's balance after the charge.
func (c Charge) Balance() int64 { return c.Payer.BalanceAfter }

// Amount is the total coins taken from the payer.
func (c Charge) Amount() int64 { return -c.Payer.Amount }

var (
	ErrNotFound             = apperr.New(apperr.ErrNotFound, "wallet: account not found")
	ErrInsufficientFunds    = apperr.New(apperr.ErrInsufficientFunds, "wallet: insufficient balance")
	ErrInsufficientEarnings = apperr.New(apperr.ErrInsufficientFunds, "wallet: insufficient pending earnings")
	ErrInvalidArgument      = apperr.New(apperr.ErrValidation, "wallet: invalid argument")
	ErrBelowMinimum         = apperr.New(apperr.ErrValidation, "wallet: below minimum redemption")
	ErrRedemptionNotFound   = apperr.New(apperr.ErrNotFound, "wallet: redemption not found")
	ErrRedemptionClosed     = apperr.New(apperr.ErrConflict, "wallet: redemption already closed")
)

// CallTickKey is the idempotency key of billing unit n of a call.
// The live meter and call end reconciliation share it, so a unit is charged once.
func CallTickKey(callID string, n int) string {
	return fmt.Sprintf("call:%s:tick:%d", callID, n)
}

// ChatKey is the idempotency key of a chat message charge.
func ChatKey(messageID string) string {
	return "chat:" + messageID
}

// PurchaseKey is the idempotency key of a coin purchase for an external order.
func PurchaseKey(orderID string) string {
	return "purchase:" + orderID
}
