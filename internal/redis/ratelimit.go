package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key pattern:
// - ratelimit:{user_id}:calls - window TTL, per-window call initiation limit

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	CallLimit  int           // Max call initiations per window
	CallWindow time.Duration // Call rate limit window
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		CallLimit:  10, // 10 calls per minute
		CallWindow: 60 * time.Second,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	if config.CallLimit <= 0 {
		config.CallLimit = DefaultRateLimitConfig().CallLimit
	}
	if config.CallWindow < time.Second {
		config.CallWindow = DefaultRateLimitConfig().CallWindow
	}
	return &RateLimiter{
		client: client,
		config: config,
	}
}

func callKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s:calls", userID)
}

// Atomic fixed-window counter.
var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

// AllowCall checks if a user can initiate a call and consumes one slot when it can.
func (r *RateLimiter) AllowCall(ctx context.Context, userID string) (*RateLimitResult, error) {
	return r.checkLimit(ctx, callKey(userID), r.config.CallLimit, r.config.CallWindow)
}

// checkLimit performs the actual rate limit check
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := limitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}
	allowed, _ := resultSlice[0].(int64)
	remaining, _ := resultSlice[1].(int64)
	ttl, _ := resultSlice[2].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttl) * time.Second,
		Limit:     limit,
	}, nil
}

// GetCallStatus returns the current call rate limit status without consuming
func (r *RateLimiter) GetCallStatus(ctx context.Context, userID string) (*RateLimitResult, error) {
	key := callKey(userID)
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	_, _ = pipe.Exec(ctx)

	current := 0
	if val, err := getCmd.Int(); err == nil {
		current = val
	}

	ttl := r.config.CallWindow
	if ttlVal := ttlCmd.Val(); ttlVal > 0 {
		ttl = ttlVal
	}

	remaining := r.config.CallLimit - current
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   current < r.config.CallLimit,
		Remaining: remaining,
		ResetIn:   ttl,
		Limit:     r.config.CallLimit,
	}, nil
}

// ResetUser resets the call limit for a user
func (r *RateLimiter) ResetUser(ctx context.Context, userID string) error {
	return r.client.Del(ctx, callKey(userID)).Err()
}
