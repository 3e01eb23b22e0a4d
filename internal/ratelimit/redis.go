package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "parceltrack:ratelimit:"

// Redis is a fixed-window limiter shared by every API replica.
// Windows are aligned to multiples of the period.
type Redis struct {
	client *redis.Client
	limit  int
	period time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, limit int, period time.Duration) *Redis {
	return &Redis{client: client, limit: limit, period: period, prefix: defaultKeyPrefix, now: time.Now}
}

// NewRedisFromURL parses a redis:// URL and verifies the connection.
func NewRedisFromURL(ctx context.Context, redisURL string, limit int, period time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedis(client, limit, period), nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

// Allow increments the counter of the current window and sets its expiry.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	slot := now.UnixMilli() / r.period.Milliseconds()
	windowEnd := time.UnixMilli((slot + 1) * r.period.Milliseconds())
	redisKey := r.prefix + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, r.period)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	count := int(incr.Val())
	return Decision{
		Allowed:    count <= r.limit,
		Limit:      r.limit,
		Remaining:  max(r.limit-count, 0),
		RetryAfter: windowEnd.Sub(now),
	}, nil
}
