package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
	"github.com/mextic/rechargeengine/internal/recharge/domain"
)

const keyPrefix = "rechargeengine:lock:"

// releaseScript deletes a key only if its stored holder id still matches;
// prevents a late release from stealing back a lock already re-acquired
// by another holder after this one's TTL expired
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local decoded = cjson.decode(raw)
if decoded.holder_id == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

type redisLockValue struct {
	HolderID   string    `json:"holder_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RedisLock implements domain.LockStore over a Redis SETNX+PEXPIRE pair.
// Grounded on ManuGH-xg2g's cache/redis client shape and the check-and-delete
// Lua pattern used pack-wide for safe unlock
type RedisLock struct {
	Client *redis.Client
}

// NewRedisLock wires a RedisLock over an existing client
func NewRedisLock(client *redis.Client) *RedisLock { return &RedisLock{Client: client} }

func rkey(key string) string { return keyPrefix + key }

// Acquire sweeps expired keys (a no-op for Redis since TTL self-expires),
// then attempts SET NX with the TTL
func (l *RedisLock) Acquire(ctx context.Context, key, holderID string, ttlSeconds int) (domain.AcquireResult, error) {
	now := time.Now().UTC()
	val := redisLockValue{
		HolderID:   holderID,
		PID:        os.Getpid(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second),
	}
	payload, err := json.Marshal(val)
	if err != nil {
		return domain.AcquireResult{}, perr.BackendErrorf("lock: marshal value: %v", err)
	}

	ok, err := l.Client.SetNX(ctx, rkey(key), payload, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return domain.AcquireResult{}, perr.BackendUnavailablef("lock: redis setnx %q: %v", key, err)
	}
	if ok {
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

func (l *RedisLock) describeHolder(ctx context.Context, key string) (string, float64) {
	raw, err := l.Client.Get(ctx, rkey(key)).Bytes()
	if err != nil {
		return "", 0
	}
	var val redisLockValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", 0
	}
	return val.HolderID, time.Since(val.AcquiredAt).Seconds()
}

// Release deletes the key only if it's still owned by holderID
func (l *RedisLock) Release(ctx context.Context, key, holderID string) error {
	_, err := releaseScript.Run(ctx, l.Client, []string{rkey(key)}, holderID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return perr.BackendErrorf("lock: release %q: %v", key, err)
	}
	return nil
}

// IsHeld reports whether key currently exists (Redis TTL handles expiry)
func (l *RedisLock) IsHeld(ctx context.Context, key string) (domain.HeldResult, error) {
	raw, err := l.Client.Get(ctx, rkey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.HeldResult{Held: false}, nil
	}
	if err != nil {
		return domain.HeldResult{}, perr.BackendUnavailablef("lock: redis get %q: %v", key, err)
	}
	var val redisLockValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return domain.HeldResult{}, perr.BackendErrorf("lock: unmarshal %q: %v", key, err)
	}
	return domain.HeldResult{Held: true, AgeSeconds: time.Since(val.AcquiredAt).Seconds()}, nil
}

// SweepExpired is a no-op for Redis: PEXPIRE/SET-with-TTL already removes
// stale keys automatically. Present to satisfy the LockStore contract
func (l *RedisLock) SweepExpired(ctx context.Context) (int, error) { return 0, nil }

// ReleaseAll deletes every key under this lock's namespace, used by
// `clean-locks --force`
func (l *RedisLock) ReleaseAll(ctx context.Context) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := l.Client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, perr.BackendUnavailablef("lock: scan: %v", err)
		}
		if len(keys) > 0 {
			n, err := l.Client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, perr.BackendErrorf("lock: del: %v", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

var _ domain.LockStore = (*RedisLock)(nil)
