package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks, used to keep one payment
// initiation in flight per announcement.
type Locker struct {
	client *Client
	logger *zap.Logger
}

func NewLocker(client *Client, logger *zap.Logger) *Locker {
	return &Locker{client: client, logger: logger}
}

// TryLock attempts to take name for ttl. When acquired, unlock releases it;
// it is safe to call after the lock has expired.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	key := l.client.key("lock", name)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
		}
	}
	return unlock, true, nil
}
