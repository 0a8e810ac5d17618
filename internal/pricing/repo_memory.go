package pricing

import (
	"context"
	"sync"

	"callcoin-platform/internal/ids"
)

// MemoryRepo is an in-memory Repository for tests and APP_STORE=memory.
type MemoryRepo struct {
	mu       sync.Mutex
	versions []CoinConfig

	// Fail, when set, is returned by every call.
	Fail error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Active(ctx context.Context) (CoinConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return CoinConfig{}, false, r.Fail
	}
	for i := len(r.versions) - 1; i >= 0; i-- {
		if r.versions[i].Active {
			return r.versions[i], true, nil
		}
	}
	return CoinConfig{}, false, nil
}

func (r *MemoryRepo) Activate(ctx context.Context, next CoinConfig) (CoinConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return CoinConfig{}, r.Fail
	}
	for i := range r.versions {
		r.versions[i].Active = false
	}
	next.ID = ids.New(ids.PrefixConfig)
	next.Version = len(r.versions) + 1
	next.Active = true
	r.versions = append(r.versions, next)
	return next, nil
}

func (r *MemoryRepo) History(ctx context.Context, limit int) ([]CoinConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CoinConfig, 0, limit)
	for i := len(r.versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.versions[i])
	}
	return out, nil
}
