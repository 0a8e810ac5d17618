package chat

import (
	"context"
	"time"
)

type Store interface {
	// GetOrCreateRoom returns the existing room for the pair or inserts r.
	GetOrCreateRoom(ctx context.Context, r Room) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	RoomsFor(ctx context.Context, accountID string, limit int) ([]Room, error)

	// InsertMessage is idempotent on m.ID: an existing message with the same
	// id is returned with replayed set.
	InsertMessage(ctx context.Context, m Message) (out Message, replayed bool, err error)
	ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, error)
}
