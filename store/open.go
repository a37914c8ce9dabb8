// Package store picks and opens the configured leave.Repository backend.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/redislock"
	"github.com/warp/leave-engine/store/sqlite"
)

// Backend is what the server and leavectl need from a database.
type Backend interface {
	leave.Repository
	leave.ActivePolicyLister
	leave.AdminStore
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open connects to the database named by cfg.Database and prepares its schema.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		s := postgres.New(db)
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// Locker returns a Redis-backed run locker when cfg.Redis.Addr is set, or nil
// (the service then keeps its process-local locker). The returned close
// function is never nil.
func Locker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (leave.RunLocker, func() error, error) {
	if cfg.Redis.Addr == "" {
		return nil, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	return redislock.New(client, "leave:run:", cfg.Redis.LockTTL, logger), client.Close, nil
}
