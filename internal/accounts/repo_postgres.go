package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcoin-platform/pkg/utils"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const accountColumns = `id, role, balance, in_call, is_online, audio_enabled, video_enabled, chat_enabled, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanAccount scans accountColumns in order.
func ScanAccount(row rowScanner) (Account, error) {
	var a Account
	var deletedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.Role,
		&a.Balance,
		&a.InCall,
		&a.IsOnline,
		&a.AudioEnabled,
		&a.VideoEnabled,
		&a.ChatEnabled,
		&deletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a Account) (Account, error) {
	const q = `
INSERT INTO accounts (id, role, balance, in_call, is_online, audio_enabled, video_enabled, chat_enabled, created_at, updated_at)
VALUES ($1,$2,$3,false,$4,$5,$6,$7,$8,$9)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Role, a.Balance, a.IsOnline, a.AudioEnabled, a.VideoEnabled, a.ChatEnabled, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Account{}, ErrAlreadyExists
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := ScanAccount(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) UpdateAvailability(ctx context.Context, id string, av Availability, at time.Time) (Account, error) {
	q := `
UPDATE accounts
SET is_online = COALESCE($2, is_online),
    audio_enabled = COALESCE($3, audio_enabled),
    video_enabled = COALESCE($4, video_enabled),
    chat_enabled = COALESCE($5, chat_enabled),
    updated_at = $6
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + accountColumns
	a, err := ScanAccount(s.db.QueryRowContext(ctx, q, id, nullBool(av.Online), nullBool(av.Audio), nullBool(av.Video), nullBool(av.Chat), at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET deleted_at = $2, is_online = false, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
