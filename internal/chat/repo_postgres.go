package chat

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

func (s *PostgresStore) GetOrCreateRoom(ctx context.Context, r Room) (Room, error) {
	const q = `
INSERT INTO chat_rooms (id, user_id, responder_id, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, responder_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING id, user_id, responder_id, created_at
`
	var out Room
	err := s.db.QueryRowContext(ctx, q, r.ID, r.UserID, r.ResponderID, r.CreatedAt).
		Scan(&out.ID, &out.UserID, &out.ResponderID, &out.CreatedAt)
	return out, err
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, responder_id, created_at FROM chat_rooms WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.ResponderID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, err
	}
	return r, nil
}

func (s *PostgresStore) RoomsFor(ctx context.Context, accountID string, limit int) ([]Room, error) {
	const q = `
SELECT id, user_id, responder_id, created_at
FROM chat_rooms
WHERE user_id = $1 OR responder_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.UserID, &r.ResponderID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const messageColumns = `id, room_id, sender_id, recipient_id, body, coins_charged, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.RecipientID, &m.Body, &m.CoinsCharged, &m.CreatedAt)
	return m, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	q := `INSERT INTO messages (` + messageColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.db.ExecContext(ctx, q, m.ID, m.RoomID, m.SenderID, m.RecipientID, m.Body, m.CoinsCharged, m.CreatedAt)
	if err == nil {
		return m, false, nil
	}
	if !utils.IsUniqueViolation(err) {
		return Message{}, false, err
	}
	existing, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, m.ID))
	if err != nil {
		return Message{}, false, err
	}
	return existing, true, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = $1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, q, roomID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
