package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/lock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/postgres"
	"github.com/redis/go-redis/v9"
)

type storeBackend struct {
	store  storage.Store
	source outbox.Source
	ready  func(context.Context) error
	close  func()
}

// openStore selects the persistence backend from STORE_BACKEND.
func openStore(ctx context.Context, logger *slog.Logger) (storeBackend, error) {
	switch backend := strings.ToLower(config.String("STORE_BACKEND", "postgres")); backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		return storeBackend{store: mem, source: mem, close: func() {}}, nil
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return storeBackend{}, err
		}
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			return storeBackend{}, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			return storeBackend{}, fmt.Errorf("db connection failed: %w", err)
		}
		if config.Bool("DB_MIGRATE", false) {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return storeBackend{}, err
			}
			logger.Info("database schema applied")
		}
		pg := postgres.New(pool)
		return storeBackend{store: pg, source: pg, ready: db.ReadyCheck(pool), close: pool.Close}, nil
	default:
		return storeBackend{}, fmt.Errorf("STORE_BACKEND must be postgres or memory (got %q)", backend)
	}
}

type lockBackend struct {
	locker lock.Locker
	ready  func(context.Context) error
	close  func()
}

// openLocker uses Redis when REDIS_ADDR is set so several instances share
// locks, and an in-process keyed mutex otherwise.
func openLocker(logger *slog.Logger) (lockBackend, error) {
	ttl, err := config.Duration("LOCK_TTL", 10*time.Second)
	if err != nil {
		return lockBackend{}, err
	}
	wait, err := config.Duration("LOCK_WAIT", 3*time.Second)
	if err != nil {
		return lockBackend{}, err
	}

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return lockBackend{locker: lock.NewKeyedMutex(), close: func() {}}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	rl := lock.NewRedisLocker(rdb, logger, lock.RedisOptions{
		Prefix: config.String("LOCK_PREFIX", "booking"),
		TTL:    ttl,
		Wait:   wait,
	})
	return lockBackend{
		locker: rl,
		ready:  rl.ReadyCheck,
		close:  func() { _ = rdb.Close() },
	}, nil
}
