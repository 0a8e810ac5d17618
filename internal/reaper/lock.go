package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callcoin-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker elects a single sweeper per round.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{} }

func (l *LocalLocker) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

const lockKey = "reaper:sweep"

// RedisLocker holds SET NX PX on a shared key with a per-process token.
type RedisLocker struct {
	rdb   *redis.Client
	token string
	log   *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, log *slog.Logger) *RedisLocker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{rdb: rdb, token: uuid.NewString(), log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	ok, err := utils.AcquireLock(ctx, l.rdb, lockKey, l.token, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}

	// Keep the lease alive while a slow sweep is still running.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				held, err := utils.ExtendLock(ctx, l.rdb, lockKey, l.token, ttl)
				if err != nil {
					l.log.Warn("sweep lock extend failed", "err", err)
					continue
				}
				if !held {
					l.log.Warn("sweep lock lost")
					return
				}
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := utils.ReleaseLock(ctx, l.rdb, lockKey, l.token); err != nil {
				l.log.Warn("sweep lock release failed", "err", err)
			}
		})
	}
	return release, true, nil
}
