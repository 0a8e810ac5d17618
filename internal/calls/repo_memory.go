package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"callcoin-platform/internal/accounts"
)

// MemoryStore keeps calls in process. The inCall flag lives in the shared
// accounts.MemoryStore. Lock order: calls, then accounts.
type MemoryStore struct {
	mu       sync.Mutex
	accounts *accounts.MemoryStore
	calls    map[string]Call
}

func NewMemoryStore(accts *accounts.MemoryStore) *MemoryStore {
	return &MemoryStore{accounts: accts, calls: map[string]Call{}}
}

func (m *MemoryStore) CreateRinging(ctx context.Context, c Call) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.accounts.Tx(func(v *accounts.View) error {
		for _, id := range []string{c.UserID, c.ResponderID} {
			a, ok := v.Get(id)
			if !ok || a.IsDeleted() {
				return partyNotFound(c, id)
			}
			if a.InCall {
				return ErrBusy
			}
			a.InCall = true
			v.Put(a)
		}
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	m.calls[c.ID] = c
	return c, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, apply func(c *Call) error) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if err := apply(&c); err != nil {
		return Call{}, err
	}
	m.calls[id] = c
	return c, nil
}

func (m *MemoryStore) Finish(ctx context.Context, id string, apply func(c *Call) error) (Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.Status.IsTerminal() {
		return c, false, nil
	}
	if err := apply(&c); err != nil {
		return Call{}, false, err
	}
	err := m.accounts.Tx(func(v *accounts.View) error {
		releaseInCall(v, c.UserID, c.ResponderID)
		return nil
	})
	if err != nil {
		return Call{}, false, err
	}
	m.calls[id] = c
	return c, true, nil
}

func releaseInCall(v *accounts.View, ids ...string) {
	for _, id := range ids {
		if a, ok := v.Get(id); ok && a.InCall {
			a.InCall = false
			v.Put(a)
		}
	}
}

func (m *MemoryStore) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.sorted() {
		if c.Status != status {
			continue
		}
		ref := staleReference(c)
		if ref != nil && ref.Before(before) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func staleReference(c Call) *time.Time {
	switch c.Status {
	case StatusRinging:
		return &c.CreatedAt
	case StatusConnecting:
		return c.AcceptedAt
	case StatusActive:
		return c.Meter.LastTickAt
	default:
		return nil
	}
}

func (m *MemoryStore) ListOrphans(ctx context.Context, limit int) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	err := m.accounts.Tx(func(v *accounts.View) error {
		for _, c := range m.sorted() {
			if c.Status.IsTerminal() {
				continue
			}
			if !alive(v, c.UserID) || !alive(v, c.ResponderID) {
				out = append(out, c)
				if len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

func alive(v *accounts.View, id string) bool {
	a, ok := v.Get(id)
	return ok && !a.IsDeleted()
}

func (m *MemoryStore) DeleteOrphan(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	err := m.accounts.Tx(func(v *accounts.View) error {
		releaseInCall(v, c.UserID, c.ResponderID)
		return nil
	})
	if err != nil {
		return err
	}
	delete(m.calls, id)
	return nil
}

func (m *MemoryStore) ReleaseStaleInCall(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := map[string]bool{}
	for _, c := range m.calls {
		if !c.Status.IsTerminal() {
			live[c.UserID] = true
			live[c.ResponderID] = true
		}
	}
	var released []string
	err := m.accounts.Tx(func(v *accounts.View) error {
		for _, a := range v.All() {
			if a.InCall && !live[a.ID] {
				a.InCall = false
				v.Put(a)
				released = append(released, a.ID)
			}
		}
		return nil
	})
	return released, err
}

func (m *MemoryStore) ListForAccount(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	all := m.sorted()
	for i := len(all) - 1; i >= 0; i-- {
		c := all[i]
		if !c.IsParticipant(accountID) || c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// sorted returns calls oldest first. Caller holds mu.
func (m *MemoryStore) sorted() []Call {
	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
