package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mextic/rechargeengine/internal/platform/store/pg"
)

// openPG opens pg and wraps it with our sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}

	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	// Connection guardrails: ping with retry/backoff using the *pool* directly
	const (
		maxAttempts    = 20
		pingTimeout    = 3 * time.Second
		backoffStart   = 150 * time.Millisecond
		backoffCeiling = 2 * time.Second
	)

	var lastErr error
	backoff := backoffStart
	for range maxAttempts {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = p.Pool.Ping(toCtx) // no adapter, no SQL trace line
		cancel()

		if lastErr == nil {
			a := newPGAdapter(p) // publish adapter only after the pool is healthy
			s.PG = a
			return a, nil
		}
		if ctx.Err() != nil {
			p.Close() // close the pool we opened
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < backoffCeiling {
			backoff *= 2
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
		}
	}

	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", maxAttempts, lastErr)
}

// openRedis opens the redis client backing the key-value lock backend,
// pinging once with a short timeout so a bad address fails fast at boot
func openRedis(ctx context.Context, cfg Config, s *Store) (*redis.Client, error) {
	c := cfg.RDS
	if c.Addr == "" {
		return nil, fmt.Errorf("redis: empty addr")
	}

	dialTO := c.DialTimeout
	if dialTO == 0 {
		dialTO = 5 * time.Second
	}
	readTO := c.ReadTimeout
	if readTO == 0 {
		readTO = 3 * time.Second
	}
	writeTO := c.WriteTimeout
	if writeTO == 0 {
		writeTO = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  dialTO,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTO)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	if s != nil {
		s.Log.Debug().Str("addr", c.Addr).Msg("redis connected")
	}

	return client, nil
}
