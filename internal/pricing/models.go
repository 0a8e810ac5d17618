package pricing

import (
	"errors"
	"fmt"
	"time"

	"callcoin-platform/internal/apperr"

	"github.com/shopspring/decimal"
)

// Channel is a billable interaction type.
type Channel string

const (
	ChannelAudio Channel = "audio"
	ChannelVideo Channel = "video"
	ChannelChat  Channel = "chat"
)

// CoinConfig is one version of the platform's coin and commission settings.
// Exactly one version is active at a time; older versions are kept for audit.
type CoinConfig struct {
	ID      string `json:"id" db:"id"`
	Version int    `json:"version" db:"version"`
	Active  bool   `json:"is_active" db:"is_active"`

	AudioCoinsPerMinute int64 `json:"audio_call_coins_per_minute" db:"audio_per_minute"`
	VideoCoinsPerMinute int64 `json:"video_call_coins_per_minute" db:"video_per_minute"`
	ChatCoinsPerMessage int64 `json:"chat_coins_per_message" db:"chat_per_message"`

	// ResponderCommissionPct is the responder's share of every billed amount, 0..100.
	ResponderCommissionPct int `json:"responder_commission_percentage" db:"responder_pct"`

	MinRedeemCoins int64           `json:"min_redeem_coins" db:"min_redeem"`
	CoinValue      decimal.Decimal `json:"coin_value" db:"coin_value"`
	Currency       string          `json:"currency" db:"currency"`

	// MaxCallDurationSeconds caps a single call; 0 means uncapped.
	MaxCallDurationSeconds int  `json:"max_call_duration_seconds" db:"max_call_seconds"`
	ChatEnabled            bool `json:"chat_enabled" db:"chat_enabled"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrInvalidConfig      = apperr.New(apperr.ErrValidation, "invalid coin config")
	ErrUnknownChannel     = apperr.New(apperr.ErrValidation, "unknown channel")
	ErrConfigUnavailable  = apperr.New(apperr.ErrDependencyUnavailable, "coin config unavailable")
	ErrChannelNotBillable = apperr.New(apperr.ErrConflict, "channel disabled")
)

func (c CoinConfig) Validate() error {
	var errs []error
	if c.AudioCoinsPerMinute <= 0 {
		errs = append(errs, errors.New("audio rate must be > 0"))
	}
	if c.VideoCoinsPerMinute <= 0 {
		errs = append(errs, errors.New("video rate must be > 0"))
	}
	if c.ChatCoinsPerMessage < 0 {
		errs = append(errs, errors.New("chat rate must be >= 0"))
	}
	if c.ResponderCommissionPct < 0 || c.ResponderCommissionPct > 100 {
		errs = append(errs, errors.New("responder commission must be within 0..100"))
	}
	if c.MinRedeemCoins < 0 {
		errs = append(errs, errors.New("min redeem must be >= 0"))
	}
	if !c.CoinValue.IsPositive() {
		errs = append(errs, errors.New("coin value must be > 0"))
	}
	if c.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if c.MaxCallDurationSeconds < 0 {
		errs = append(errs, errors.New("max call duration must be >= 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// RateFor returns the per-unit price of ch.
func (c CoinConfig) RateFor(ch Channel) (int64, error) {
	switch ch {
	case ChannelAudio:
		return c.AudioCoinsPerMinute, nil
	case ChannelVideo:
		return c.VideoCoinsPerMinute, nil
	case ChannelChat:
		if !c.ChatEnabled {
			return 0, ErrChannelNotBillable
		}
		return c.ChatCoinsPerMessage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
}

// Split divides amount into the responder and platform shares.
// The responder share is floored; the platform keeps the remainder.
func (c CoinConfig) Split(amount int64) (responderShare, platformShare int64) {
	return Split(amount, c.ResponderCommissionPct)
}

func Split(amount int64, pct int) (responderShare, platformShare int64) {
	if amount <= 0 || pct <= 0 {
		return 0, amount
	}
	if pct > 100 {
		pct = 100
	}
	responderShare = amount * int64(pct) / 100
	return responderShare, amount - responderShare
}

// CoinsToCurrency converts coins at the configured coin value, rounded to 2 places.
func (c CoinConfig) CoinsToCurrency(coins int64) decimal.Decimal {
	return c.CoinValue.Mul(decimal.NewFromInt(coins)).Round(2)
}

// MaxCallDuration returns the configured cap, or 0 when uncapped.
func (c CoinConfig) MaxCallDuration() time.Duration {
	return time.Duration(c.MaxCallDurationSeconds) * time.Second
}
