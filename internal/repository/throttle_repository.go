package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/citygrid-api/pkg/cache"
)

// ThrottleRepository keeps sliding-window markers in Redis so that several API
// replicas agree on which audit event opens a window.
type ThrottleRepository struct {
	client *redis.Client
}

// NewThrottleRepository creates a new instance of ThrottleRepository.
func NewThrottleRepository(client *redis.Client) *ThrottleRepository {
	return &ThrottleRepository{client: client}
}

// Acquire opens a window for key. It returns true when the caller opened the
// window and false when one was already open.
func (r *ThrottleRepository) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, cache.Key("audit", key), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire throttle %s: %w", key, err)
	}
	return ok, nil
}

// Release closes the window for key so the next event can open a new one.
func (r *ThrottleRepository) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, cache.Key("audit", key)).Err(); err != nil {
		return fmt.Errorf("redis release throttle %s: %w", key, err)
	}
	return nil
}

// OverrideLimiter counts emergency override requests per account in fixed hourly buckets.
type OverrideLimiter struct {
	client *redis.Client
}

// NewOverrideLimiter creates a new instance of OverrideLimiter.
func NewOverrideLimiter(client *redis.Client) *OverrideLimiter {
	return &OverrideLimiter{client: client}
}

// Hit records one request and returns the count inside the current window.
// The increment and the window expiry are applied in one MULTI/EXEC.
func (l *OverrideLimiter) Hit(ctx context.Context, accountID string, window time.Duration) (int64, error) {
	key := cache.Key("override", accountID)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis override counter: %w", err)
	}
	return incr.Val(), nil
}
