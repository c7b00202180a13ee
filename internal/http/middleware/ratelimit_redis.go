package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every replica: each key
// may serve Limit requests per Window. The counter is created with its
// expiry in one MULTI/EXEC so an interrupted request never leaves an
// immortal key behind.
type RedisLimiter struct {
	Client redis.Cmdable
	Prefix string
	Limit  int64
	Window time.Duration
}

// NewRedisLimiter approximates a token bucket of rps/burst with a one-second
// window of max(burst, rps) requests.
func NewRedisLimiter(client redis.Cmdable, rps float64, burst int) *RedisLimiter {
	limit := int64(burst)
	if r := int64(rps); r > limit {
		limit = r
	}
	if limit < 1 {
		limit = 1
	}
	return &RedisLimiter{Client: client, Prefix: "clinic:rl:", Limit: limit, Window: time.Second}
}

// Allow increments key's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.Window
	if window <= 0 {
		window = time.Second
	}
	slot := time.Now().UnixNano() / int64(window)
	k := fmt.Sprintf("%s%s:%d", l.Prefix, key, slot)

	var incr *redis.IntCmd
	_, err := l.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, window+time.Second)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= l.Limit, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
