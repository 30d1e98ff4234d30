// Package ratelimit enforces the per-sender message insert cap. Two
// implementations exist: a Redis sliding window for deployments with Redis,
// and a SQL COUNT fallback over the messages table when Redis is not
// configured. Handlers depend only on the Limiter interface.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"geochat/internal/store"

	"github.com/redis/go-redis/v9"
)

// Limiter reports whether a sender may insert another message right now.
// Allow records the attempt when it is admitted; Peek answers without
// consuming an allotment and backs the client-facing pre-check endpoint.
type Limiter interface {
	Allow(ctx context.Context, senderRef string) (bool, error)
	Peek(ctx context.Context, senderRef string) (bool, error)
}

// RedisLimiter is a sliding-window limiter over a Redis sorted set: prune
// entries older than the window, count the rest, admit and record if under
// the cap. The script keeps the check-and-record atomic.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "geochat:ratelimit:",
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, now .. ':' .. count)
		redis.call('PEXPIRE', key, window_ms)
		return 1
	end
	return 0
`)

func (l *RedisLimiter) Allow(ctx context.Context, senderRef string) (bool, error) {
	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + senderRef},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return result == 1, nil
}

func (l *RedisLimiter) Peek(ctx context.Context, senderRef string) (bool, error) {
	windowStart := time.Now().Add(-l.window)
	count, err := l.client.ZCount(ctx, l.prefix+senderRef,
		fmt.Sprintf("%d", windowStart.UnixMilli()), "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("failed to count rate limit window: %w", err)
	}
	return int(count) < l.limit, nil
}

// PostgresLimiter counts the sender's inserts inside the window straight
// from the messages table. The admitted insert itself is the record, so
// Allow and Peek are the same check.
type PostgresLimiter struct {
	messages store.MessageStore
	limit    int
	window   time.Duration
}

func NewPostgresLimiter(messages store.MessageStore, limit int, window time.Duration) *PostgresLimiter {
	return &PostgresLimiter{
		messages: messages,
		limit:    limit,
		window:   window,
	}
}

func (l *PostgresLimiter) Allow(ctx context.Context, senderRef string) (bool, error) {
	count, err := l.messages.CountRecentBySender(ctx, senderRef, l.window)
	if err != nil {
		return false, fmt.Errorf("failed to count recent sends: %w", err)
	}
	return count < l.limit, nil
}

func (l *PostgresLimiter) Peek(ctx context.Context, senderRef string) (bool, error) {
	return l.Allow(ctx, senderRef)
}
