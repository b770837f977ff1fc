// Package lock implements the two mutually-exclusive LockStore backends:
// a relational table (SQLLock) and a Redis key-value store (RedisLock)
package lock

import (
	"context"
	"os"
	"time"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/platform/store"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

// SQLLock implements domain.LockStore against recargas_process_locks, a
// table with a unique index on lock_key. Grounded on the teacher's
// nightshift lease claim (conditional UPDATE ... RETURNING) and backfill's
// advisory-lock helper for the sweep/release shape
type SQLLock struct {
	DB store.TxRunner
}

// NewSQLLock wires a SQLLock over an existing TxRunner
func NewSQLLock(db store.TxRunner) *SQLLock { return &SQLLock{DB: db} }

// Acquire sweeps expired locks, then attempts to insert a row for key.
// A unique-violation means another holder is live and Acquired is false
func (l *SQLLock) Acquire(ctx context.Context, key, holderID string, ttlSeconds int) (domain.AcquireResult, error) {
	if _, err := l.SweepExpired(ctx); err != nil {
		return domain.AcquireResult{}, perr.BackendUnavailablef("lock: sweep before acquire: %v", err)
	}

	now := time.Now().UTC()
	expires := now.Add(time.Duration(ttlSeconds) * time.Second)
	pid := os.Getpid()

	var acquired bool
	err := l.DB.Tx(ctx, func(q store.RowQuerier) error {
		row := q.QueryRow(ctx, `
			INSERT INTO recargas_process_locks (lock_key, lock_id, pid, acquired_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (lock_key) DO NOTHING
			RETURNING true
		`, key, holderID, pid, now, expires)
		if err := row.Scan(&acquired); err != nil {
			// no row returned means the conflict branch fired: lock held
			acquired = false
			return nil
		}
		return nil
	})
	if err != nil {
		return domain.AcquireResult{}, perr.BackendErrorf("lock: acquire %q: %v", key, err)
	}

	if acquired {
		return domain.AcquireResult{Acquired: true}, nil
	}

	owner, age := l.describeHolder(ctx, key)
	return domain.AcquireResult{
		Acquired:      false,
		Reason:        "lock_exists",
		ExistingOwner: owner,
		AgeSeconds:    age,
	}, nil
}

func (l *SQLLock) describeHolder(ctx context.Context, key string) (string, float64) {
	var owner string
	var acquiredAt time.Time
	row := l.DB.QueryRow(ctx, `SELECT lock_id, acquired_at FROM recargas_process_locks WHERE lock_key = $1`, key)
	if err := row.Scan(&owner, &acquiredAt); err != nil {
		return "", 0
	}
	return owner, time.Since(acquiredAt).Seconds()
}

// Release deletes the row only if holderID still owns it
func (l *SQLLock) Release(ctx context.Context, key, holderID string) error {
	_, err := l.DB.Exec(ctx, `DELETE FROM recargas_process_locks WHERE lock_key = $1 AND lock_id = $2`, key, holderID)
	if err != nil {
		return perr.BackendErrorf("lock: release %q: %v", key, err)
	}
	return nil
}

// IsHeld reports whether key has a current, unexpired holder
func (l *SQLLock) IsHeld(ctx context.Context, key string) (domain.HeldResult, error) {
	var acquiredAt, expiresAt time.Time
	row := l.DB.QueryRow(ctx, `SELECT acquired_at, expires_at FROM recargas_process_locks WHERE lock_key = $1`, key)
	if err := row.Scan(&acquiredAt, &expiresAt); err != nil {
		return domain.HeldResult{Held: false}, nil
	}
	if time.Now().UTC().After(expiresAt) {
		return domain.HeldResult{Held: false}, nil
	}
	return domain.HeldResult{Held: true, AgeSeconds: time.Since(acquiredAt).Seconds()}, nil
}

// SweepExpired deletes every lock row past its expires_at
func (l *SQLLock) SweepExpired(ctx context.Context) (int, error) {
	tag, err := l.DB.Exec(ctx, `DELETE FROM recargas_process_locks WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, perr.BackendErrorf("lock: sweep: %v", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReleaseAll force-deletes every lock row, used by `clean-locks --force`
func (l *SQLLock) ReleaseAll(ctx context.Context) (int, error) {
	tag, err := l.DB.Exec(ctx, `DELETE FROM recargas_process_locks`)
	if err != nil {
		return 0, perr.BackendErrorf("lock: release all: %v", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ domain.LockStore = (*SQLLock)(nil)
