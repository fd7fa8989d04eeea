package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another instance holds the lock
var ErrHeld = errors.New("imputation run lock held by another instance")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock keeps a single imputation instance running at a time
type Lock struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
	token string
}

// New creates a lock on key. The TTL bounds how long a crashed holder blocks others.
func New(redisClient *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		redis: redisClient,
		key:   key,
		ttl:   ttl,
		token: uuid.NewString(),
	}
}

// Token identifies this holder
func (l *Lock) Token() string {
	return l.token
}

// Acquire takes the lock or returns ErrHeld
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.redis.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock in Redis: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Release frees the lock if this holder still owns it
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.redis, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock in Redis: %w", err)
	}
	return nil
}

// Holder returns the token of the current holder, empty when free
func (l *Lock) Holder(ctx context.Context) (string, error) {
	token, err := l.redis.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lock holder from Redis: %w", err)
	}
	return token, nil
}
