package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callcoin-platform/internal/ids"
	"callcoin-platform/internal/pricing"
)

// ConfigSource resolves the active commission settings.
type ConfigSource interface {
	Current(ctx context.Context) (pricing.CoinConfig, error)
}

// Service is the wallet ledger: the only legal way to change a coin balance.
//
// Money invariants:
// - No balance or earnings change without a ledger entry
// - The ledger is append-only
// - Every posting runs in one storage transaction
// - Retrying with the same idempotency key returns the original entry
type Service struct {
	store  Store
	config ConfigSource
	log    *slog.Logger
	clock  func() time.Time
}

func NewService(store Store, config ConfigSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, config: config, log: log, clock: time.Now}
}

// Deduct removes amount from accountID's balance.
// It fails with ErrInsufficientFunds when the balance is lower than amount.
func (s *Service) Deduct(ctx context.Context, accountID string, amount int64, reason TxType, idempotencyKey string) (Transaction, error) {
	if err := validatePosting(accountID, amount, reason, idempotencyKey); err != nil {
		return Transaction{}, err
	}
	res, err := s.post(ctx, Posting{
		AccountID:      accountID,
		Amount:         amount,
		Debit:          true,
		Type:           reason,
		IdempotencyKey: idempotencyKey,
	})
	return res.Payer, err
}

// Credit adds amount to accountID's balance unconditionally.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, reason TxType, idempotencyKey string) (Transaction, error) {
	if err := validatePosting(accountID, amount, reason, idempotencyKey); err != nil {
		return Transaction{}, err
	}
	res, err := s.post(ctx, Posting{
		AccountID:      accountID,
		Amount:         amount,
		Type:           reason,
		IdempotencyKey: idempotencyKey,
	})
	return res.Payer, err
}

// Purchase credits coins bought through an external payment order.
func (s *Service) Purchase(ctx context.Context, accountID string, coins int64, orderID string) (Transaction, error) {
	if strings.TrimSpace(orderID) == "" {
		return Transaction{}, ErrInvalidArgument
	}
	if err := validatePosting(accountID, coins, TxTypePurchase, orderID); err != nil {
		return Transaction{}, err
	}
	res, err := s.post(ctx, Posting{
		AccountID:      accountID,
		Amount:         coins,
		Type:           TxTypePurchase,
		EntityID:       orderID,
		IdempotencyKey: PurchaseKey(orderID),
	})
	return res.Payer, err
}

// DeductForCallMinute bills unit tick of callID to userID and credits the
// responder's commission share, atomically.
func (s *Service) DeductForCallMinute(ctx context.Context, userID, responderID, callID string, tick int, amount int64) (Charge, error) {
	if tick <= 0 || callID == "" {
		return Charge{}, ErrInvalidArgument
	}
	return s.split(ctx, userID, responderID, callID, TxTypeCall, CallTickKey(callID, tick), amount)
}

// DeductForChat bills one chat message to userID and credits the responder's share.
func (s *Service) DeductForChat(ctx context.Context, userID, responderID, messageID string, amount int64) (Charge, error) {
	if messageID == "" {
		return Charge{}, ErrInvalidArgument
	}
	return s.split(ctx, userID, responderID, messageID, TxTypeChat, ChatKey(messageID), amount)
}

func (s *Service) split(ctx context.Context, userID, responderID, entityID string, typ TxType, key string, amount int64) (Charge, error) {
	if err := validatePosting(userID, amount, typ, key); err != nil {
		return Charge{}, err
	}
	if responderID == "" || responderID == userID {
		return Charge{}, ErrInvalidArgument
	}
	cfg, err := s.config.Current(ctx)
	if err != nil {
		return Charge{}, err
	}
	responderShare, _ := cfg.Split(amount)

	p := Posting{
		AccountID:      userID,
		Amount:         amount,
		Debit:          true,
		Type:           typ,
		EntityID:       entityID,
		IdempotencyKey: key,
	}
	if responderShare > 0 {
		p.EarningAccountID = responderID
		p.EarningAmount = responderShare
	}
	res, err := s.post(ctx, p)
	if err != nil {
		return Charge{}, err
	}

	// Replays report the shares that were actually booked.
	ch := Charge{Payer: res.Payer, Earning: res.Earning, Replayed: res.Replayed}
	if res.Earning != nil {
		ch.ResponderShare = res.Earning.Amount
	}
	ch.PlatformShare = ch.Amount() - ch.ResponderShare
	return ch, nil
}

func (s *Service) post(ctx context.Context, p Posting) (PostResult, error) {
	res, err := s.store.Post(ctx, p, s.clock().UTC())
	if err != nil {
		s.log.Debug("ledger posting rejected", "account_id", p.AccountID, "key", p.IdempotencyKey, "amount", p.Amount, "err", err)
		return PostResult{}, err
	}
	if res.Replayed {
		s.log.Debug("ledger posting replayed", "account_id", p.AccountID, "key", p.IdempotencyKey)
	}
	return res, nil
}

func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, ErrInvalidArgument
	}
	return s.store.Balance(ctx, accountID)
}

// Transactions pages an account's ledger newest first. A zero before means now.
func (s *Service) Transactions(ctx context.Context, accountID string, before time.Time, limit int) ([]Transaction, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if before.IsZero() {
		before = s.clock().UTC().Add(time.Second)
	}
	return s.store.Transactions(ctx, accountID, before, limit)
}

func (s *Service) TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	return s.store.TransactionsBetween(ctx, accountID, from, to)
}

// ChargedFor is the ledger sum debited from accountID for entityID.
func (s *Service) ChargedFor(ctx context.Context, accountID, entityID string) (int64, error) {
	return s.store.ChargedFor(ctx, accountID, entityID)
}

func (s *Service) Earnings(ctx context.Context, responderID string) (Earnings, error) {
	if responderID == "" {
		return Earnings{}, ErrInvalidArgument
	}
	return s.store.Earnings(ctx, responderID)
}

// RequestRedemption moves coins from pending to locked earnings and records
// the currency amount owed at the current coin value.
func (s *Service) RequestRedemption(ctx context.Context, responderID string, coins int64) (Redemption, error) {
	if responderID == "" || coins <= 0 {
		return Redemption{}, ErrInvalidArgument
	}
	cfg, err := s.config.Current(ctx)
	if err != nil {
		return Redemption{}, err
	}
	if coins < cfg.MinRedeemCoins {
		return Redemption{}, fmt.Errorf("%w: minimum is %d coins", ErrBelowMinimum, cfg.MinRedeemCoins)
	}
	now := s.clock().UTC()
	r, err := s.store.LockForRedemption(ctx, Redemption{
		ID:          ids.New(ids.PrefixRedemption),
		ResponderID: responderID,
		Coins:       coins,
		Amount:      cfg.CoinsToCurrency(coins),
		Currency:    cfg.Currency,
		Status:      RedemptionLocked,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Redemption{}, err
	}
	s.log.Info("redemption requested", "redemption_id", r.ID, "responder_id", responderID, "coins", coins, "amount", r.Amount.String())
	return r, nil
}

// SettleRedemption marks locked coins redeemed once the payout was executed elsewhere.
func (s *Service) SettleRedemption(ctx context.Context, id string) (Redemption, error) {
	return s.store.CloseRedemption(ctx, id, RedemptionSettled, s.clock().UTC())
}

// CancelRedemption returns locked coins to pending.
func (s *Service) CancelRedemption(ctx context.Context, id string) (Redemption, error) {
	return s.store.CloseRedemption(ctx, id, RedemptionCancelled, s.clock().UTC())
}

func (s *Service) Redemptions(ctx context.Context, responderID string, limit int) ([]Redemption, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Redemptions(ctx, responderID, limit)
}

func validatePosting(accountID string, amount int64, typ TxType, idempotencyKey string) error {
	if accountID == "" || idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amount <= 0 {
		return ErrInvalidArgument
	}
	if !typ.Valid() {
		return ErrInvalidArgument
	}
	return nil
}
