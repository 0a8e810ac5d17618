package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcoin-platform/internal/ids"
	"callcoin-platform/pkg/utils"
)

// PostgresStore persists the ledger in:
// - accounts (balance column, shared with the accounts package)
// - transactions (immutable append-only, UNIQUE (account_id, idempotency_key))
// - responder_earnings (projection of earnings-bucket entries)
// - redemptions
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const txnColumns = `id, account_id, type, bucket, amount, balance_after, entity_id, idempotency_key, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxn(row rowScanner) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.Type,
		&t.Bucket,
		&t.Amount,
		&t.BalanceAfter,
		&t.EntityID,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	return t, err
}

func (s *PostgresStore) Post(ctx context.Context, p Posting, now time.Time) (PostResult, error) {
	var res PostResult
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if found, ok, err := replay(ctx, tx, p); err != nil {
			return err
		} else if ok {
			res = found
			return nil
		}

		bal, err := applyBalanceDelta(ctx, tx, p, now)
		if err != nil {
			return err
		}
		delta := p.Amount
		if p.Debit {
			delta = -p.Amount
		}
		res.Payer = Transaction{
			ID:             ids.New(ids.PrefixTransaction),
			AccountID:      p.AccountID,
			Type:           p.Type,
			Bucket:         BucketBalance,
			Amount:         delta,
			BalanceAfter:   bal,
			EntityID:       p.EntityID,
			IdempotencyKey: p.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := insertTxn(ctx, tx, res.Payer); err != nil {
			return err
		}

		if p.EarningAccountID == "" || p.EarningAmount <= 0 {
			return nil
		}
		pending, err := creditEarnings(ctx, tx, p.EarningAccountID, p.EarningAmount, now)
		if err != nil {
			return err
		}
		earning := Transaction{
			ID:             ids.New(ids.PrefixTransaction),
			AccountID:      p.EarningAccountID,
			Type:           p.Type,
			Bucket:         BucketEarnings,
			Amount:         p.EarningAmount,
			BalanceAfter:   pending,
			EntityID:       p.EntityID,
			IdempotencyKey: p.IdempotencyKey,
			CreatedAt:      now,
		}
		res.Earning = &earning
		return insertTxn(ctx, tx, earning)
	})
	if err == nil {
		return res, nil
	}
	if !utils.IsUniqueViolation(err) {
		return PostResult{}, err
	}

	// A concurrent writer committed the same key first; report its entries.
	var replayed PostResult
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		found, ok, err := replay(ctx, tx, p)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("wallet: idempotency conflict without committed entry")
		}
		replayed = found
		return nil
	})
	return replayed, err
}

func replay(ctx context.Context, tx *sql.Tx, p Posting) (PostResult, bool, error) {
	payer, ok, err := findTxnByKey(ctx, tx, p.AccountID, p.IdempotencyKey)
	if err != nil || !ok {
		return PostResult{}, false, err
	}
	res := PostResult{Payer: payer, Replayed: true}
	if p.EarningAccountID != "" {
		e, ok, err := findTxnByKey(ctx, tx, p.EarningAccountID, p.IdempotencyKey)
		if err != nil {
			return PostResult{}, false, err
		}
		if ok {
			res.Earning = &e
		}
	}
	return res, true, nil
}

func findTxnByKey(ctx context.Context, tx *sql.Tx, accountID, key string) (Transaction, bool, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions WHERE account_id = $1 AND idempotency_key = $2 LIMIT 1`
	t, err := scanTxn(tx.QueryRowContext(ctx, q, accountID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

// applyBalanceDelta moves the balance with one conditional statement.
// Debits only match when the balance covers the amount, so concurrent
// debits serialize on the row and can never drive it negative.
func applyBalanceDelta(ctx context.Context, tx *sql.Tx, p Posting, now time.Time) (int64, error) {
	const debit = `
UPDATE accounts
SET balance = balance - $2, updated_at = $3
WHERE id = $1 AND deleted_at IS NULL AND balance >= $2
RETURNING balance
`
	const credit = `
UPDATE accounts
SET balance = balance + $2, updated_at = $3
WHERE id = $1 AND deleted_at IS NULL
RETURNING balance
`
	q := credit
	if p.Debit {
		q = debit
	}
	var bal int64
	err := tx.QueryRowContext(ctx, q, p.AccountID, p.Amount, now).Scan(&bal)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if !p.Debit {
		return 0, ErrNotFound
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1 AND deleted_at IS NULL)`, p.AccountID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrInsufficientFunds
}

func insertTxn(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
INSERT INTO transactions (
  id, account_id, type, bucket, amount, balance_after, entity_id, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID,
		t.AccountID,
		t.Type,
		t.Bucket,
		t.Amount,
		t.BalanceAfter,
		t.EntityID,
		t.IdempotencyKey,
		t.CreatedAt,
	)
	return err
}

func creditEarnings(ctx context.Context, tx *sql.Tx, responderID string, amount int64, now time.Time) (int64, error) {
	const q = `
INSERT INTO responder_earnings (responder_id, total, pending, locked, redeemed, updated_at)
VALUES ($1, $2, $2, 0, 0, $3)
ON CONFLICT (responder_id)
DO UPDATE SET total = responder_earnings.total + EXCLUDED.total,
              pending = responder_earnings.pending + EXCLUDED.pending,
              updated_at = EXCLUDED.updated_at
RETURNING pending
`
	var pending int64
	if err := tx.QueryRowContext(ctx, q, responderID, amount, now).Scan(&pending); err != nil {
		return 0, err
	}
	return pending, nil
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&bal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return bal, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, accountID string, before time.Time, limit int) ([]Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions WHERE account_id = $1 AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3`
	return s.queryTxns(ctx, q, accountID, before, limit)
}

func (s *PostgresStore) TransactionsBetween(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	q := `SELECT ` + txnColumns + ` FROM transactions WHERE account_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at`
	return s.queryTxns(ctx, q, accountID, from, to)
}

func (s *PostgresStore) queryTxns(ctx context.Context, q string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ChargedFor(ctx context.Context, accountID, entityID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(-amount), 0)
FROM transactions
WHERE account_id = $1 AND entity_id = $2 AND bucket = 'balance' AND amount < 0
`
	var sum int64
	if err := s.db.QueryRowContext(ctx, q, accountID, entityID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (s *PostgresStore) Earnings(ctx context.Context, responderID string) (Earnings, error) {
	const q = `
SELECT responder_id, total, pending, locked, redeemed, updated_at
FROM responder_earnings
WHERE responder_id = $1
`
	var e Earnings
	err := s.db.QueryRowContext(ctx, q, responderID).Scan(
		&e.ResponderID,
		&e.TotalCoins,
		&e.PendingCoins,
		&e.LockedCoins,
		&e.RedeemedCoins,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Earnings{ResponderID: responderID}, nil
		}
		return Earnings{}, err
	}
	return e, nil
}

func (s *PostgresStore) LockForRedemption(ctx context.Context, r Redemption) (Redemption, error) {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const lock = `
UPDATE responder_earnings
SET pending = pending - $2, locked = locked + $2, updated_at = $3
WHERE responder_id = $1 AND pending >= $2
RETURNING pending
`
		var pending int64
		if err := tx.QueryRowContext(ctx, lock, r.ResponderID, r.Coins, r.CreatedAt).Scan(&pending); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInsufficientEarnings
			}
			return err
		}
		if err := insertRedemption(ctx, tx, r); err != nil {
			return err
		}
		return insertTxn(ctx, tx, Transaction{
			ID:             ids.New(ids.PrefixTransaction),
			AccountID:      r.ResponderID,
			Type:           TxTypeRedemption,
			Bucket:         BucketEarnings,
			Amount:         -r.Coins,
			BalanceAfter:   pending,
			EntityID:       r.ID,
			IdempotencyKey: "redeem:" + r.ID,
			CreatedAt:      r.CreatedAt,
		})
	})
	if err != nil {
		return Redemption{}, err
	}
	return r, nil
}

func insertRedemption(ctx context.Context, tx *sql.Tx, r Redemption) error {
	const q = `
INSERT INTO redemptions (id, responder_id, coins, amount, currency, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := tx.ExecContext(ctx, q, r.ID, r.ResponderID, r.Coins, r.Amount, r.Currency, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

const redemptionColumns = `id, responder_id, coins, amount, currency, status, created_at, updated_at`

func scanRedemption(row rowScanner) (Redemption, error) {
	var r Redemption
	err := row.Scan(&r.ID, &r.ResponderID, &r.Coins, &r.Amount, &r.Currency, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *PostgresStore) CloseRedemption(ctx context.Context, id string, to RedemptionStatus, now time.Time) (Redemption, error) {
	if to != RedemptionSettled && to != RedemptionCancelled {
		return Redemption{}, ErrInvalidArgument
	}
	var out Redemption
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE id = $1 FOR UPDATE`
		r, err := scanRedemption(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRedemptionNotFound
			}
			return err
		}
		if r.Status != RedemptionLocked {
			return ErrRedemptionClosed
		}

		move := `UPDATE responder_earnings SET locked = locked - $2, redeemed = redeemed + $2, updated_at = $3 WHERE responder_id = $1 RETURNING pending`
		if to == RedemptionCancelled {
			move = `UPDATE responder_earnings SET locked = locked - $2, pending = pending + $2, updated_at = $3 WHERE responder_id = $1 RETURNING pending`
		}
		var pending int64
		if err := tx.QueryRowContext(ctx, move, r.ResponderID, r.Coins, now).Scan(&pending); err != nil {
			return err
		}
		if to == RedemptionCancelled {
			err := insertTxn(ctx, tx, Transaction{
				ID:             ids.New(ids.PrefixTransaction),
				AccountID:      r.ResponderID,
				Type:           TxTypeRedemption,
				Bucket:         BucketEarnings,
				Amount:         r.Coins,
				BalanceAfter:   pending,
				EntityID:       r.ID,
				IdempotencyKey: "redeem-cancel:" + r.ID,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE redemptions SET status = $2, updated_at = $3 WHERE id = $1`, id, to, now); err != nil {
			return err
		}
		r.Status = to
		r.UpdatedAt = now
		out = r
		return nil
	})
	return out, err
}

func (s *PostgresStore) Redemptions(ctx context.Context, responderID string, limit int) ([]Redemption, error) {
	q := `SELECT ` + redemptionColumns + ` FROM redemptions WHERE ($1 = '' OR responder_id = $1) ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, responderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
