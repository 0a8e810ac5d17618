package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]Room
	byPair   map[[2]string]string
	messages map[string]Message
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    map[string]Room{},
		byPair:   map[[2]string]string{},
		messages: map[string]Message{},
	}
}

func (m *MemoryStore) GetOrCreateRoom(ctx context.Context, r Room) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := [2]string{r.UserID, r.ResponderID}
	if id, ok := m.byPair[pair]; ok {
		return m.rooms[id], nil
	}
	m.rooms[r.ID] = r
	m.byPair[pair] = r.ID
	return r, nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, id string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r, nil
}

func (m *MemoryStore) RoomsFor(ctx context.Context, accountID string, limit int) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Room
	for _, r := range m.rooms {
		if r.IsParticipant(accountID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertMessage(ctx context.Context, msg Message) (Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.messages[msg.ID]; ok {
		return existing, true, nil
	}
	m.messages[msg.ID] = msg
	m.order = append(m.order, msg.ID)
	return msg, false, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[m.order[i]]
		if msg.RoomID == roomID && msg.CreatedAt.Before(before) {
			out = append(out, msg)
		}
	}
	return out, nil
}
