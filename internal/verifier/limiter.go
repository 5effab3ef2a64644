package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"voucher_backend/internal/domain"
)

// ErrRateLimited is returned when a provider slot did not free up before the
// caller's deadline.
var ErrRateLimited = errors.New("provider concurrency limit reached")

// Limiter caps in-flight automation runs per provider. Release must be called
// exactly once per successful Acquire.
type Limiter interface {
	Acquire(ctx context.Context, provider domain.Provider) (release func(), err error)
}

const limiterPoll = 200 * time.Millisecond

// NoLimit never blocks.
type NoLimit struct{}

func (NoLimit) Acquire(context.Context, domain.Provider) (func(), error) { return func() {}, nil }

// LocalLimiter keeps one atomic counter per provider in this process.
type LocalLimiter struct {
	max      int64
	counters map[domain.Provider]*atomic.Int64
}

// NewLocalLimiter returns a limiter allowing max concurrent runs per provider.
// The counter map is fixed at construction so Acquire never writes to it.
func NewLocalLimiter(max int) *LocalLimiter {
	l := &LocalLimiter{max: int64(max), counters: make(map[domain.Provider]*atomic.Int64)}
	for _, p := range domain.Providers {
		l.counters[p] = new(atomic.Int64)
	}
	l.counters[domain.ProviderMock] = new(atomic.Int64)
	return l
}

func (l *LocalLimiter) Acquire(ctx context.Context, provider domain.Provider) (func(), error) {
	c, ok := l.counters[provider]
	if !ok || l.max <= 0 {
		return func() {}, nil
	}
	err := waitSlot(ctx, func(context.Context) (bool, error) {
		if c.Add(1) <= l.max {
			return true, nil
		}
		c.Add(-1)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.Add(-1)
		}
	}, nil
}

// InFlight reports the current counter for provider.
func (l *LocalLimiter) InFlight(provider domain.Provider) int64 {
	if c, ok := l.counters[provider]; ok {
		return c.Load()
	}
	return 0
}

// RedisLimiter shares the per-provider counter across processes. The key
// carries a TTL so a crashed holder cannot leak a slot forever, and a release
// after expiry floors the counter at zero.
type RedisLimiter struct {
	rdb    redis.Scripter
	max    int64
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var (
	acquireScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if n > tonumber(ARGV[1]) then
	redis.call('DECR', KEYS[1])
	return 0
end
return 1
`)
	releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n < 0 then
	redis.call('SET', KEYS[1], 0, 'PX', ARGV[1])
	return 0
end
return n
`)
)

func NewRedisLimiter(rdb redis.Scripter, max int, ttl time.Duration, logger *slog.Logger) *RedisLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{rdb: rdb, max: int64(max), ttl: ttl, prefix: "verifier:inflight:", logger: logger}
}

func (l *RedisLimiter) key(p domain.Provider) string { return l.prefix + string(p) }

func (l *RedisLimiter) Acquire(ctx context.Context, provider domain.Provider) (func(), error) {
	if l.max <= 0 {
		return func() {}, nil
	}
	key := l.key(provider)
	err := waitSlot(ctx, func(ctx context.Context) (bool, error) {
		got, err := acquireScript.Run(ctx, l.rdb, []string{key}, l.max, l.ttl.Milliseconds()).Int64()
		if err != nil {
			return false, fmt.Errorf("acquire %s: %w", key, err)
		}
		return got == 1, nil
	})
	if err != nil {
		return nil, err
	}
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		// the caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, l.ttl.Milliseconds()).Err(); err != nil {
			l.logger.Error("release provider slot", "key", key, "err", err)
		}
	}, nil
}

func waitSlot(ctx context.Context, try func(context.Context) (bool, error)) error {
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRateLimited, ctx.Err())
		case <-time.After(limiterPoll):
		}
	}
}
