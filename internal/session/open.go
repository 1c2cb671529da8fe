package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Sweeper is implemented by stores that expire entries themselves.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Counter is implemented by stores that can report their size.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.SessionsConfig, logger *slog.Logger) (domain.SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		TTL:        time.Duration(cfg.TTLMinutes) * time.Minute,
		MaxEntries: cfg.MaxEntries,
	}

	switch cfg.Backend {
	case "", "memory":
		logger.Info("session store ready", "backend", "memory", "ttl", opts.TTL, "max_entries", opts.MaxEntries)
		return NewMemoryStore(opts), nil
	case "sqlite":
		store, err := NewSQLiteStore(config.ExpandPath(cfg.DBPath), opts, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("session store ready", "backend", "sqlite", "path", cfg.DBPath, "ttl", opts.TTL)
		return store, nil
	case "redis":
		store, err := NewRedisStore(RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("session store ready", "backend", "redis", "addr", cfg.Redis.Addr, "ttl", opts.TTL)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// RunJanitor sweeps store every interval until ctx is done. It returns
// immediately when the store does not expire entries itself.
func RunJanitor(ctx context.Context, store domain.SessionStore, interval time.Duration, logger *slog.Logger) {
	sweeper, ok := store.(Sweeper)
	if !ok || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
