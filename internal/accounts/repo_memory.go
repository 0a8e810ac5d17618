package accounts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps accounts in process. Wallet and call memory stores share
// one MemoryStore and mutate it through Tx, so multi-record updates are
// atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]Account{}}
}

// View is the transactional handle passed to Tx callbacks.
type View struct {
	base  map[string]Account
	dirty map[string]Account
}

func (v *View) Get(id string) (Account, bool) {
	if a, ok := v.dirty[id]; ok {
		return a, true
	}
	a, ok := v.base[id]
	return a, ok
}

func (v *View) Put(a Account) { v.dirty[a.ID] = a }

// All returns every account sorted by id.
func (v *View) All() []Account {
	out := make([]Account, 0, len(v.base))
	for id := range v.base {
		a, _ := v.Get(id)
		out = append(out, a)
	}
	for id, a := range v.dirty {
		if _, ok := v.base[id]; !ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tx runs fn with exclusive access. Writes are committed only if fn returns nil.
func (m *MemoryStore) Tx(fn func(v *View) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &View{base: m.accounts, dirty: map[string]Account{}}
	if err := fn(v); err != nil {
		return err
	}
	for id, a := range v.dirty {
		m.accounts[id] = a
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, a Account) (Account, error) {
	err := m.Tx(func(v *View) error {
		if _, ok := v.Get(a.ID); ok {
			return ErrAlreadyExists
		}
		v.Put(a)
		return nil
	})
	return a, err
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Account, error) {
	var out Account
	err := m.Tx(func(v *View) error {
		a, ok := v.Get(id)
		if !ok {
			return ErrNotFound
		}
		out = a
		return nil
	})
	return out, err
}

func (m *MemoryStore) UpdateAvailability(ctx context.Context, id string, av Availability, at time.Time) (Account, error) {
	var out Account
	err := m.Tx(func(v *View) error {
		a, ok := v.Get(id)
		if !ok || a.IsDeleted() {
			return ErrNotFound
		}
		av.apply(&a)
		a.UpdatedAt = at
		v.Put(a)
		out = a
		return nil
	})
	return out, err
}

func (m *MemoryStore) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	return m.Tx(func(v *View) error {
		a, ok := v.Get(id)
		if !ok {
			return ErrNotFound
		}
		a.DeletedAt = &at
		a.IsOnline = false
		a.UpdatedAt = at
		v.Put(a)
		return nil
	})
}

// Seed inserts or replaces accounts directly; intended for tests and local runs.
func (m *MemoryStore) Seed(accts ...Account) {
	_ = m.Tx(func(v *View) error {
		for _, a := range accts {
			v.Put(a)
		}
		return nil
	})
}
