// Package redislock implements leave.RunLocker on Redis, so that grant runs
// are exclusive across every server sharing the same database.
//
// A lock is a key set with SET NX and a TTL. The value is a random token and
// release deletes the key only while it still holds that token, so a run that
// outlived its TTL cannot release a lock another run has since taken.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/generic"
)

const DefaultTTL = 10 * time.Minute

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a locker using client. Keys are stored as prefix+key.
func New(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	name := l.prefix + key

	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, generic.Persistence("acquire run lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrRunInProgress, key)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := releaseScript.Run(ctx, l.client, []string{name}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("run lock release failed", "key", name, "error", err)
		}
	}, nil
}
