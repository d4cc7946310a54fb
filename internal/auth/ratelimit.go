package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter limits login attempts per username and IP using Redis
// INCR + EXPIRE.
type RateLimiter struct {
	redis      *redis.Client
	maxAttempt int
	window     time.Duration
}

// NewRateLimiter creates a rate limiter. maxAttempt is the max failed
// attempts allowed per username+IP within the given window.
func NewRateLimiter(rdb *redis.Client, maxAttempt int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:      rdb,
		maxAttempt: maxAttempt,
		window:     window,
	}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

func limitKey(username, ip string) string {
	return fmt.Sprintf("login_ratelimit:%s:%s", username, ip)
}

// Check returns whether the given username+IP is allowed to attempt a login.
func (rl *RateLimiter) Check(ctx context.Context, username, ip string) (*RateLimitResult, error) {
	count, err := rl.redis.Get(ctx, limitKey(username, ip)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= rl.maxAttempt {
		ttl, err := rl.redis.TTL(ctx, limitKey(username, ip)).Result()
		if err != nil {
			return nil, fmt.Errorf("getting TTL: %w", err)
		}
		return &RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			RetryAt:   time.Now().Add(ttl),
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: rl.maxAttempt - count,
	}, nil
}

// Record records a failed login attempt for the given username+IP.
func (rl *RateLimiter) Record(ctx context.Context, username, ip string) error {
	key := limitKey(username, ip)

	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}
	// The window is fixed, not sliding: it starts at the first failed
	// attempt and later failures do not extend it.
	if count == 1 {
		if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			return fmt.Errorf("recording rate limit: %w", err)
		}
	}
	return nil
}

// Reset clears the rate limit counter (on successful login).
func (rl *RateLimiter) Reset(ctx context.Context, username, ip string) error {
	return rl.redis.Del(ctx, limitKey(username, ip)).Err()
}
