package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"liquidity-pool/internal/observability"
)

// Redis defaults.
const (
	DefaultTTL          = 30 * time.Second
	DefaultRetryDelay   = 25 * time.Millisecond
	DefaultRedisKeyBase = "poold:lock:"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Redis is a SET NX PX lock with an owner token, for multi-instance deployments.
// The TTL bounds how long a crashed holder blocks the key.
type Redis struct {
	client     redis.Cmdable
	prefix     string
	ttl        time.Duration
	timeout    time.Duration
	retryDelay time.Duration
	newToken   func() string
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets the lock expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithTimeout sets how long Acquire waits.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// WithRetryDelay sets the polling interval while the key is held elsewhere.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(r *Redis) { r.retryDelay = d }
}

// WithKeyPrefix sets the namespace of lock keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTokenSource replaces the uuid owner tokens.
func WithTokenSource(fn func() string) RedisOption {
	return func(r *Redis) { r.newToken = fn }
}

// NewRedis creates a Redis locker on client.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		prefix:     DefaultRedisKeyBase,
		ttl:        DefaultTTL,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		newToken:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Locker = (*Redis)(nil)

// Acquire polls SET NX until it wins, ctx is done or the timeout elapses.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	start := time.Now()
	redisKey := r.prefix + key
	token := r.newToken()
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			observability.RecordLockWait(time.Since(start), false)
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			observability.RecordLockWait(time.Since(start), false)
			return r.release(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			observability.RecordLockWait(time.Since(start), false)
			return nil, ctx.Err()
		case <-deadline.C:
			observability.RecordLockWait(time.Since(start), true)
			return nil, ErrTimeout
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Redis) release(redisKey, token string) Release {
	return func(ctx context.Context) error {
		n, err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release %s: %w", redisKey, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
}
