package calls

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"callcoin-platform/pkg/utils"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const callColumns = `id, user_id, responder_id, type, status, room_id,
created_at, accepted_at, started_at, ended_at, updated_at,
duration_seconds, coins_charged, end_reason,
last_tick_at, tick_count, total_coins_deducted,
max_duration_seconds, rate_per_minute, scheduled_end_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var acceptedAt, startedAt, endedAt, lastTickAt, scheduledEndAt sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ResponderID,
		&c.Type,
		&c.Status,
		&c.RoomID,
		&c.CreatedAt,
		&acceptedAt,
		&startedAt,
		&endedAt,
		&c.UpdatedAt,
		&c.DurationSeconds,
		&c.CoinsCharged,
		&c.EndReason,
		&lastTickAt,
		&c.Meter.TickCount,
		&c.Meter.TotalCoinsDeducted,
		&c.MaxDurationSeconds,
		&c.RatePerMinute,
		&scheduledEndAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.AcceptedAt = timePtr(acceptedAt)
	c.StartedAt = timePtr(startedAt)
	c.EndedAt = timePtr(endedAt)
	c.Meter.LastTickAt = timePtr(lastTickAt)
	c.ScheduledEndAt = timePtr(scheduledEndAt)
	return c, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) CreateRinging(ctx context.Context, c Call) (Call, error) {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Claim both parties in id order so concurrent initiations cannot deadlock.
		parties := []string{c.UserID, c.ResponderID}
		sort.Strings(parties)
		for _, id := range parties {
			res, err := tx.ExecContext(ctx,
				`UPDATE accounts SET in_call = true, updated_at = $2 WHERE id = $1 AND in_call = false AND deleted_at IS NULL`,
				id, c.CreatedAt)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return claimFailure(ctx, tx, c, id)
			}
		}
		return insertCall(ctx, tx, c)
	})
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

// claimFailure tells a missing or deleted party apart from a busy one.
func claimFailure(ctx context.Context, tx *sql.Tx, c Call, id string) error {
	var deleted bool
	err := tx.QueryRowContext(ctx, `SELECT deleted_at IS NOT NULL FROM accounts WHERE id = $1`, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return partyNotFound(c, id)
	}
	if err != nil {
		return err
	}
	return ErrBusy
}

func insertCall(ctx context.Context, tx *sql.Tx, c Call) error {
	q := `INSERT INTO calls (` + callColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err := tx.ExecContext(ctx, q,
		c.ID,
		c.UserID,
		c.ResponderID,
		c.Type,
		c.Status,
		c.RoomID,
		c.CreatedAt,
		nullTime(c.AcceptedAt),
		nullTime(c.StartedAt),
		nullTime(c.EndedAt),
		c.UpdatedAt,
		c.DurationSeconds,
		c.CoinsCharged,
		c.EndReason,
		nullTime(c.Meter.LastTickAt),
		c.Meter.TickCount,
		c.Meter.TotalCoinsDeducted,
		c.MaxDurationSeconds,
		c.RatePerMinute,
		nullTime(c.ScheduledEndAt),
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func lockCall(ctx context.Context, tx *sql.Tx, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
	c, err := scanCall(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func saveCall(ctx context.Context, tx *sql.Tx, c Call) error {
	const q = `
UPDATE calls
SET status = $2,
    accepted_at = $3,
    started_at = $4,
    ended_at = $5,
    updated_at = $6,
    duration_seconds = $7,
    coins_charged = $8,
    end_reason = $9,
    last_tick_at = $10,
    tick_count = $11,
    total_coins_deducted = $12,
    rate_per_minute = $13,
    scheduled_end_at = $14
WHERE id = $1
`
	_, err := tx.ExecContext(ctx, q,
		c.ID,
		c.Status,
		nullTime(c.AcceptedAt),
		nullTime(c.StartedAt),
		nullTime(c.EndedAt),
		c.UpdatedAt,
		c.DurationSeconds,
		c.CoinsCharged,
		c.EndReason,
		nullTime(c.Meter.LastTickAt),
		c.Meter.TickCount,
		c.Meter.TotalCoinsDeducted,
		c.RatePerMinute,
		nullTime(c.ScheduledEndAt),
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, id string, apply func(c *Call) error) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := apply(&c); err != nil {
			return err
		}
		out = c
		return saveCall(ctx, tx, c)
	})
	return out, err
}

func (s *PostgresStore) Finish(ctx context.Context, id string, apply func(c *Call) error) (Call, bool, error) {
	var out Call
	var changed bool
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		out = c
		if c.Status.IsTerminal() {
			return nil
		}
		if err := apply(&c); err != nil {
			return err
		}
		if err := saveCall(ctx, tx, c); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET in_call = false, updated_at = $3 WHERE id IN ($1, $2) AND in_call = true`,
			c.UserID, c.ResponderID, c.UpdatedAt); err != nil {
			return err
		}
		out = c
		changed = true
		return nil
	})
	if err != nil {
		return Call{}, false, err
	}
	return out, changed, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Call, error) {
	ref := "created_at"
	switch status {
	case StatusConnecting:
		ref = "accepted_at"
	case StatusActive:
		ref = "last_tick_at"
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE status = $1 AND ` + ref + ` < $2 ORDER BY ` + ref + ` LIMIT $3`
	return s.queryCalls(ctx, q, status, before, limit)
}

func (s *PostgresStore) ListOrphans(ctx context.Context, limit int) ([]Call, error) {
	q := `
SELECT ` + callColumns + `
FROM calls c
WHERE c.status IN ('RINGING', 'CONNECTING', 'ACTIVE')
  AND (
    NOT EXISTS (SELECT 1 FROM accounts a WHERE a.id = c.user_id AND a.deleted_at IS NULL)
    OR NOT EXISTS (SELECT 1 FROM accounts a WHERE a.id = c.responder_id AND a.deleted_at IS NULL)
  )
ORDER BY c.created_at
LIMIT $1`
	return s.queryCalls(ctx, q, limit)
}

func (s *PostgresStore) DeleteOrphan(ctx context.Context, id string) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		c, err := lockCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE id = $1`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE accounts SET in_call = false WHERE id IN ($1, $2) AND in_call = true`, c.UserID, c.ResponderID)
		return err
	})
}

func (s *PostgresStore) ReleaseStaleInCall(ctx context.Context) ([]string, error) {
	const q = `
UPDATE accounts a
SET in_call = false
WHERE a.in_call = true
  AND NOT EXISTS (
    SELECT 1 FROM calls c
    WHERE (c.user_id = a.id OR c.responder_id = a.id)
      AND c.status IN ('RINGING', 'CONNECTING', 'ACTIVE')
  )
RETURNING a.id
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + callColumns + ` FROM calls
WHERE (user_id = $1 OR responder_id = $1) AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
LIMIT $4`
	return s.queryCalls(ctx, q, accountID, from, to, limit)
}

func (s *PostgresStore) queryCalls(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
