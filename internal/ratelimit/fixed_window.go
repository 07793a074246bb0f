package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "library:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter counts requests per key in fixed windows stored in
// Redis, so every replica shares the same quota.
type FixedWindowLimiter struct {
	name   string
	limit  int
	window time.Duration
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// Options configures a limiter. Name separates the counters of limiters
// sharing one Redis.
type Options struct {
	Name   string
	Prefix string
	Limit  int
	Window time.Duration
}

// New builds a limiter on an existing client.
func New(client redis.Scripter, opts Options) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if opts.Limit <= 0 || opts.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, errors.New("rate limiter name is required")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{
		name:   name,
		limit:  opts.Limit,
		window: opts.Window,
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// NewRedisFixedWindowLimiter dials addr and builds a limiter.
func NewRedisFixedWindowLimiter(addr, password string, opts Options) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password}), opts)
}

// Name returns the limiter name.
func (l *FixedWindowLimiter) Name() string { return l.name }

// Allow reports whether key is within quota and, when it is not, how long
// until the current window closes. Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil {
		return false, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	redisKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, l.name, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond
	if err != nil {
		slog.WarnContext(ctx, "rate limiter unavailable", "limiter", l.name, "err", err)
		return false, retryAfter
	}
	if count > int64(l.limit) {
		return false, retryAfter
	}
	return true, 0
}
