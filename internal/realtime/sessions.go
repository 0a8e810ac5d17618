package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the identity bound to one websocket connection at upgrade.
type Session struct {
	ConnID      string
	AccountID   string
	Role        string
	ConnectedAt time.Time
}

var ErrSessionNotFound = errors.New("realtime session not found")

// SessionRegistry maps connection ids to identities across processes.
type SessionRegistry interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, connID string) (Session, error)
	// Remove drops connID and returns how many connections the account still holds.
	Remove(ctx context.Context, connID string) (remaining int64, err error)
}

type MemorySessions struct {
	mu        sync.Mutex
	sessions  map[string]Session
	byAccount map[string]map[string]struct{}
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		sessions:  make(map[string]Session),
		byAccount: make(map[string]map[string]struct{}),
	}
}

func (m *MemorySessions) Put(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ConnID] = s
	conns, ok := m.byAccount[s.AccountID]
	if !ok {
		conns = make(map[string]struct{})
		m.byAccount[s.AccountID] = conns
	}
	conns[s.ConnID] = struct{}{}
	return nil
}

func (m *MemorySessions) Get(ctx context.Context, connID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessions) Remove(ctx context.Context, connID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return 0, ErrSessionNotFound
	}
	delete(m.sessions, connID)
	conns := m.byAccount[s.AccountID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(m.byAccount, s.AccountID)
	}
	return int64(len(conns)), nil
}

const sessionTTL = 24 * time.Hour

// RedisSessions stores sessions as hashes so any process can resolve a connection.
type RedisSessions struct {
	rdb *redis.Client
}

func NewRedisSessions(rdb *redis.Client) *RedisSessions { return &RedisSessions{rdb: rdb} }

func sessionKey(connID string) string { return "rt:session:" + connID }
func accountConnsKey(accountID string) string { return "rt:account:" + accountID + ":conns" }

func (r *RedisSessions) Put(ctx context.Context, s Session) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, sessionKey(s.ConnID), map[string]any{
			"account_id":   s.AccountID,
			"role":         s.Role,
			"connected_at": s.ConnectedAt.UTC().Format(time.RFC3339Nano),
		})
		p.Expire(ctx, sessionKey(s.ConnID), sessionTTL)
		p.SAdd(ctx, accountConnsKey(s.AccountID), s.ConnID)
		p.Expire(ctx, accountConnsKey(s.AccountID), sessionTTL)
		return nil
	})
	return err
}

func (r *RedisSessions) Get(ctx context.Context, connID string) (Session, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(connID)).Result()
	if err != nil {
		return Session{}, err
	}
	if len(fields) == 0 {
		return Session{}, ErrSessionNotFound
	}
	s := Session{ConnID: connID, AccountID: fields["account_id"], Role: fields["role"]}
	if at, err := time.Parse(time.RFC3339Nano, fields["connected_at"]); err == nil {
		s.ConnectedAt = at
	}
	return s, nil
}

func (r *RedisSessions) Remove(ctx context.Context, connID string) (int64, error) {
	s, err := r.Get(ctx, connID)
	if err != nil {
		return 0, err
	}
	var remaining *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(connID))
		p.SRem(ctx, accountConnsKey(s.AccountID), connID)
		remaining = p.SCard(ctx, accountConnsKey(s.AccountID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining.Val(), nil
}
