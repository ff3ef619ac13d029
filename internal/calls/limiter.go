package calls

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"auralis/internal/apperr"
	"auralis/pkg/utils"
)

const dialCapKey = "auralis:dials:in_flight"

// RedisDialLimiter bounds in-flight outbound placements across every API
// instance sharing the Redis server. Redis failures let the dial through.
type RedisDialLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
	log   *slog.Logger
}

func NewRedisDialLimiter(rdb *redis.Client, limit int, log *slog.Logger) *RedisDialLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisDialLimiter{rdb: rdb, limit: limit, ttl: 2 * time.Minute, log: log}
}

func (l *RedisDialLimiter) Acquire(ctx context.Context) (func(), error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, dialCapKey, l.limit, l.ttl)
	if err != nil {
		l.log.Warn("dial cap unavailable, allowing call", "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.RateLimited("too many calls being placed, try again shortly")
	}
	return func() {
		// The request context may already be cancelled.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(relCtx, l.rdb, dialCapKey); err != nil {
			l.log.Warn("dial cap release failed", "error", err)
		}
	}, nil
}
