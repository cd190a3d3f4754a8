package httpx

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisRateLimiter struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisRateLimiter constructs a limiter whose counters are shared by every
// API replica.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client redis.UniversalClient, logger *slog.Logger) *redisRateLimiter {
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "oneops:quota:",
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
}

// Take keeps one counter per aligned window, "<prefix><key>:<index>", and
// weights the previous window the same way the local limiter does. It fails
// open when redis is unreachable.
func (rl *redisRateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	now := rl.now()
	start := now.Truncate(window)
	index := start.UnixNano() / int64(window)
	currentKey := rl.prefix + key + ":" + strconv.FormatInt(index, 10)
	previousKey := rl.prefix + key + ":" + strconv.FormatInt(index-1, 10)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.PExpire(ctx, currentKey, 2*window)
	prev := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		rl.logRedisError("pipeline", err)
		return rateDecision{allowed: true}
	}
	previous, _ := prev.Int()
	used := int(incr.Val()) + weighted(previous, now.Sub(start), window)
	return rateDecision{
		allowed: used <= limit,
		used:    used,
		resetAt: start.Add(window),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis quota counter error", "op", op, "error", err)
}
