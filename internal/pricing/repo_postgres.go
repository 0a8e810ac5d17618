package pricing

import (
	"context"
	"database/sql"
	"errors"

	"callcoin-platform/internal/ids"
	"callcoin-platform/pkg/utils"
)

// PostgresRepo stores versions in coin_configs.
// A partial unique index on (is_active) WHERE is_active guarantees a single active row.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const coinConfigColumns = `id, version, is_active, audio_per_minute, video_per_minute, chat_per_message,
       responder_pct, min_redeem, coin_value, currency, max_call_seconds, chat_enabled, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoinConfig(row rowScanner) (CoinConfig, error) {
	var c CoinConfig
	err := row.Scan(
		&c.ID,
		&c.Version,
		&c.Active,
		&c.AudioCoinsPerMinute,
		&c.VideoCoinsPerMinute,
		&c.ChatCoinsPerMessage,
		&c.ResponderCommissionPct,
		&c.MinRedeemCoins,
		&c.CoinValue,
		&c.Currency,
		&c.MaxCallDurationSeconds,
		&c.ChatEnabled,
		&c.CreatedBy,
		&c.CreatedAt,
	)
	return c, err
}

func (r *PostgresRepo) Active(ctx context.Context) (CoinConfig, bool, error) {
	q := `SELECT ` + coinConfigColumns + ` FROM coin_configs WHERE is_active LIMIT 1`
	c, err := scanCoinConfig(r.db.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CoinConfig{}, false, nil
		}
		return CoinConfig{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Activate(ctx context.Context, next CoinConfig) (CoinConfig, error) {
	next.ID = ids.New(ids.PrefixConfig)
	next.Active = true

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize concurrent activations across processes.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('coin_configs'))`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE coin_configs SET is_active = false WHERE is_active`); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM coin_configs`).Scan(&next.Version); err != nil {
			return err
		}
		const q = `
INSERT INTO coin_configs (
  id, version, is_active, audio_per_minute, video_per_minute, chat_per_message,
  responder_pct, min_redeem, coin_value, currency, max_call_seconds, chat_enabled, created_by, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
		_, err := tx.ExecContext(ctx, q,
			next.ID,
			next.Version,
			next.Active,
			next.AudioCoinsPerMinute,
			next.VideoCoinsPerMinute,
			next.ChatCoinsPerMessage,
			next.ResponderCommissionPct,
			next.MinRedeemCoins,
			next.CoinValue,
			next.Currency,
			next.MaxCallDurationSeconds,
			next.ChatEnabled,
			next.CreatedBy,
			next.CreatedAt,
		)
		return err
	})
	if err != nil {
		return CoinConfig{}, err
	}
	return next, nil
}

func (r *PostgresRepo) History(ctx context.Context, limit int) ([]CoinConfig, error) {
	q := `SELECT ` + coinConfigColumns + ` FROM coin_configs ORDER BY version DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoinConfig
	for rows.Next() {
		c, err := scanCoinConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
