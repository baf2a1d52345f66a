package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wellbeing-survey-service/internal/domain"
)

const (
	minRetry = 5 * time.Millisecond
	maxRetry = 200 * time.Millisecond
)

// unlockScript deletes the lock only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a Redis-backed implementation of app.Locker for multi-instance deployments.
// Locks are stored as: SET lock:{key} {token} NX PX ttl
// The ttl bounds how long a crashed holder can block others.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewLocker(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Locker {
	return &Locker{client: client, ttl: ttl, log: log.With().Str("component", "redis_locker").Logger()}
}

// Lock retries with exponential backoff until the lock is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.key(key)
	wait := minRetry
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// release must outlive a cancelled request context
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
					l.log.Warn().Err(err).Str("key", key).Msg("release lock")
				}
			}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockTimeout)
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetry {
			wait = maxRetry
		}
	}
}

func (l *Locker) key(key string) string {
	return "lock:" + key
}
