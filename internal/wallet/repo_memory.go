package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/ids"
)

// MemoryStore is an in-process Store. Balances live in the shared
// accounts.MemoryStore so call and wallet writes observe one another.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    *accounts.MemoryStore
	txns        []Transaction
	byKey       map[string]int // accountID + "\x00" + key -> index in txns
	earnings    map[string]Earnings
	redemptions map[string]Redemption
}

func NewMemoryStore(accts *accounts.MemoryStore) *MemoryStore {
	return &MemoryStore{
		accounts:    accts,
		byKey:       map[string]int{},
		earnings:    map[string]Earnings{},
		redemptions: map[string]Redemption{},
	}
}

func keyOf(accountID, key string) string { return accountID + "\x00" + key }

func (m *MemoryStore) Post(ctx context.Context, p Posting, now time.Time) (PostResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byKey[keyOf(p.AccountID, p.IdempotencyKey)]; ok {
		res := PostResult{Payer: m.txns[i], Replayed: true}
		if p.EarningAccountID != "" {
			if j, ok := m.byKey[keyOf(p.EarningAccountID, p.IdempotencyKey)]; ok {
				e := m.txns[j]
				res.Earning = &e
			}
		}
		return res, nil
	}

	var res PostResult
	var earn Earnings
	err := m.accounts.Tx(func(v *accounts.View) error {
		a, ok := v.Get(p.AccountID)
		if !ok || a.IsDeleted() {
			return ErrNotFound
		}
		delta := p.Amount
		if p.Debit {
			if a.Balance < p.Amount {
				return ErrInsufficientFunds
			}
			delta = -p.Amount
		}
		a.Balance += delta
		a.UpdatedAt = now
		v.Put(a)

		res.Payer = Transaction{
			ID:             ids.New(ids.PrefixTransaction),
			AccountID:      p.AccountID,
			Type:           p.Type,
			Bucket:         BucketBalance,
			Amount:         delta,
			BalanceAfter:   a.Balance,
			EntityID:       p.EntityID,
			IdempotencyKey: p.IdempotencyKey,
			CreatedAt:      now,
		}

		if p.EarningAccountID != "" && p.EarningAmount > 0 {
			if _, ok := v.Get(p.EarningAccountID); !ok {
				return ErrNotFound
			}
			earn = m.earnings[p.EarningAccountID]
			earn.ResponderID = p.EarningAccountID
			earn.TotalCoins += p.EarningAmount
			earn.PendingCoins += p.EarningAmount
			earn.UpdatedAt = now
			res.Earning = &Transaction{
				ID:             ids.New(ids.PrefixTransaction),
				AccountID:      p.EarningAccountID,
				Type:           p.Type,
				Bucket:         BucketEarnings,
				Amount:         p.EarningAmount,
				BalanceAfter:   earn.PendingCoins,
				EntityID:       p.EntityID,
				IdempotencyKey: p.IdempotencyKey,
				CreatedAt:      now,
			}
		}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}

	m.append(res.Payer)
	if res.Earning != nil {
		m.append(*res.Earning)
		m.earnings[earn.ResponderID] = earn
	}
	return res, nil
}

func (m *MemoryStore) append(t Transaction) {
	m.byKey[keyOf(t.AccountID, t.IdempotencyKey)] = len(m.txns)
	m.txns = append(m.txns, t)
}

func (m *MemoryStore) Balance(ctx context.Context, accountID string) (int64, error) {
	a, err := m.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, ErrNotFound
	}
	return a.Balance, nil
}

func (m *MemoryStore) Transactions(ctx context.Context, accountID string, before time.Time, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.txns[i]
		if t.AccountID == accountID && t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.txns {
		if t.AccountID == accountID && !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) ChargedFor(ctx context.Context, accountID, entityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, t := range m.txns {
		if t.AccountID == accountID && t.EntityID == entityID && t.Bucket == BucketBalance && t.Amount < 0 {
			sum -= t.Amount
		}
	}
	return sum, nil
}

func (m *MemoryStore) Earnings(ctx context.Context, responderID string) (Earnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.earnings[responderID]
	if !ok {
		return Earnings{ResponderID: responderID}, nil
	}
	return e, nil
}

func (m *MemoryStore) LockForRedemption(ctx context.Context, r Redemption) (Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.earnings[r.ResponderID]
	if e.PendingCoins < r.Coins {
		return Redemption{}, ErrInsufficientEarnings
	}
	e.ResponderID = r.ResponderID
	e.PendingCoins -= r.Coins
	e.LockedCoins += r.Coins
	e.UpdatedAt = r.CreatedAt
	m.earnings[r.ResponderID] = e
	m.redemptions[r.ID] = r
	m.append(Transaction{
		ID:             ids.New(ids.PrefixTransaction),
		AccountID:      r.ResponderID,
		Type:           TxTypeRedemption,
		Bucket:         BucketEarnings,
		Amount:         -r.Coins,
		BalanceAfter:   e.PendingCoins,
		EntityID:       r.ID,
		IdempotencyKey: "redeem:" + r.ID,
		CreatedAt:      r.CreatedAt,
	})
	return r, nil
}

func (m *MemoryStore) CloseRedemption(ctx context.Context, id string, to RedemptionStatus, now time.Time) (Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.redemptions[id]
	if !ok {
		return Redemption{}, ErrRedemptionNotFound
	}
	if r.Status != RedemptionLocked {
		return Redemption{}, ErrRedemptionClosed
	}
	e := m.earnings[r.ResponderID]
	e.LockedCoins -= r.Coins
	switch to {
	case RedemptionSettled:
		e.RedeemedCoins += r.Coins
	case RedemptionCancelled:
		e.PendingCoins += r.Coins
		m.append(Transaction{
			ID:             ids.New(ids.PrefixTransaction),
			AccountID:      r.ResponderID,
			Type:           TxTypeRedemption,
			Bucket:         BucketEarnings,
			Amount:         r.Coins,
			BalanceAfter:   e.PendingCoins,
			EntityID:       r.ID,
			IdempotencyKey: "redeem-cancel:" + r.ID,
			CreatedAt:      now,
		})
	default:
		return Redemption{}, ErrInvalidArgument
	}
	e.UpdatedAt = now
	m.earnings[r.ResponderID] = e
	r.Status = to
	r.UpdatedAt = now
	m.redemptions[id] = r
	return r, nil
}

func (m *MemoryStore) Redemptions(ctx context.Context, responderID string, limit int) ([]Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Redemption
	for _, r := range m.redemptions {
		if responderID == "" || r.ResponderID == responderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
