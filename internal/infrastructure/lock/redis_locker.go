package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palmtrace/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the caller's token still owns the key
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a distributed lock built on SET NX PX with token-checked
// release. The lease bounds how long a crashed holder can block others;
// a live holder renews it every third of the lease until release.
type RedisLocker struct {
	client       *redis.Client
	keyPrefix    string
	lease        time.Duration
	timeout      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// RedisLockerOption is a functional option for configuring the locker
type RedisLockerOption func(*RedisLocker)

// WithLease sets how long a lock is held before Redis expires it
func WithLease(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		l.lease = d
	}
}

// WithPollInterval sets the retry interval while waiting for a lock
func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		l.pollInterval = d
	}
}

// WithLockLogger sets the logger used for release failures
func WithLockLogger(logger *zap.Logger) RedisLockerOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

// NewRedisLocker creates a RedisLocker; timeout <= 0 waits as long as ctx allows
func NewRedisLocker(client *redis.Client, timeout time.Duration, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:       client,
		keyPrefix:    "palmtrace:",
		lease:        30 * time.Second,
		timeout:      timeout,
		pollInterval: 25 * time.Millisecond,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.lease <= 0 {
		l.lease = 30 * time.Second
	}
	if l.pollInterval <= 0 {
		l.pollInterval = 25 * time.Millisecond
	}
	return l
}

// Acquire polls SET NX until the lock is taken or the wait is over
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	fullKey := l.keyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.lease).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(fullKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, timeoutError(key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) releaser(fullKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(fullKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lock", zap.String("key", fullKey), zap.Error(err))
			}
		})
	}
}

// renew keeps the lease alive until stop is closed or the lock is lost
func (l *RedisLocker) renew(fullKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.lease/3)
			held, err := renewScript.Run(ctx, l.client, []string{fullKey}, token, l.lease.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to renew lock lease", zap.String("key", fullKey), zap.Error(err))
				continue
			}
			if held == 0 {
				l.logger.Error("Lock lease lost before release", zap.String("key", fullKey))
				return
			}
		}
	}
}

var _ shared.Locker = (*RedisLocker)(nil)
