package reporting

import (
	"context"
	"errors"
	"time"

	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = apperr.New(apperr.ErrValidation, "invalid report request")

// Repository abstracts data access for reporting.
// Implementations query immutable sources: call records and the ledger.
type Repository interface {
	ListCalls(ctx context.Context, accountID string, from, to time.Time) ([]calls.Call, error)
	ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]wallet.Transaction, error)
}

type RateResolver interface {
	Current(ctx context.Context) (pricing.CoinConfig, error)
}

type Service struct {
	repo  Repository
	rates RateResolver
}

func NewService(repo Repository, rates RateResolver) *Service {
	return &Service{repo: repo, rates: rates}
}

func validate(req SummaryRequest) error {
	if req.AccountID == "" {
		return ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ErrInvalidRequest
	}
	return nil
}

func (s *Service) CallsSummary(ctx context.Context, req SummaryRequest) (CallsSummary, error) {
	if err := validate(req); err != nil {
		return CallsSummary{}, err
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AccountID: req.AccountID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.CoinsCharged += c.CoinsCharged
		switch c.Status {
		case calls.StatusEnded:
			out.CompletedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusRinging, calls.StatusConnecting, calls.StatusActive:
			out.InProgressCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	return out, nil
}

func (s *Service) CoinSummary(ctx context.Context, req SummaryRequest) (CoinSummary, error) {
	if err := validate(req); err != nil {
		return CoinSummary{}, err
	}
	if s.repo == nil {
		return CoinSummary{}, errors.New("reporting: repository not configured")
	}

	txns, err := s.repo.ListTransactions(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return CoinSummary{}, err
	}

	out := CoinSummary{AccountID: req.AccountID}
	for _, t := range txns {
		if t.AccountID != req.AccountID {
			continue
		}
		switch t.Bucket {
		case wallet.BucketBalance:
			out.NetBalanceDelta += t.Amount
			switch {
			case t.Type == wallet.TxTypePurchase && t.Amount > 0:
				out.PurchasedCoins += t.Amount
			case t.Type == wallet.TxTypeCall && t.Amount < 0:
				out.SpentOnCalls -= t.Amount
			case t.Type == wallet.TxTypeChat && t.Amount < 0:
				out.SpentOnChat -= t.Amount
			case t.Amount > 0:
				out.OtherCredits += t.Amount
			}
		case wallet.BucketEarnings:
			switch t.Type {
			case wallet.TxTypeCall:
				out.EarnedFromCalls += t.Amount
			case wallet.TxTypeChat:
				out.EarnedFromChat += t.Amount
			case wallet.TxTypeRedemption:
				// Locks are negative; cancellations return them.
				out.RedeemedCoins -= t.Amount
			}
		}
	}
	return out, nil
}

// AccountSummary combines call and coin summaries for one account.
func (s *Service) AccountSummary(ctx context.Context, req SummaryRequest) (AccountSummary, error) {
	cs, err := s.CallsSummary(ctx, req)
	if err != nil {
		return AccountSummary{}, err
	}
	coins, err := s.CoinSummary(ctx, req)
	if err != nil {
		return AccountSummary{}, err
	}
	out := AccountSummary{AccountID: req.AccountID, Range: req.Range, Calls: cs, Coins: coins, EarnedValue: decimal.Zero}
	if s.rates != nil {
		cfg, err := s.rates.Current(ctx)
		if err != nil {
			return AccountSummary{}, err
		}
		out.EarnedValue = cfg.CoinsToCurrency(coins.EarnedFromCalls + coins.EarnedFromChat)
		out.Currency = cfg.Currency
	}
	return out, nil
}
