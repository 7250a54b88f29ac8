package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces the configured `{window_seconds, max_requests, scope}`
// tuples using Redis INCR + EXPIRE atomic counters.
type RateLimiter struct {
	redis *redis.Client
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{redis: rdb}
}

func scopeID(scope RateLimitScope, req AuthorizationRequest) string {
	switch scope {
	case RateLimitInstitution:
		return req.InstitutionID
	case RateLimitIP:
		return req.IP
	default:
		return req.SubjectID
	}
}

func rateLimitKey(scope RateLimitScope, id string, action ActionType) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", scope, id, action)
}

// RateLimitOutcome is returned by Check.
type RateLimitOutcome struct {
	Exceeded    bool
	RetryAfterS int
}

// Check increments every configured window's counter for req.Action and
// reports whether any window's max_requests was exceeded. Even configs that
// are not yet exceeded are still incremented — each request counts against
// every configured window, not just the first one checked.
func (rl *RateLimiter) Check(ctx context.Context, configs []RateLimitConfig, req AuthorizationRequest) (RateLimitOutcome, error) {
	var outcome RateLimitOutcome

	for _, cfg := range configs {
		id := scopeID(cfg.Scope, req)
		if id == "" {
			continue
		}
		key := rateLimitKey(cfg.Scope, id, req.Action)
		window := time.Duration(cfg.WindowSeconds) * time.Second

		pipe := rl.redis.Pipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			return RateLimitOutcome{}, fmt.Errorf("incrementing rate limit counter: %w", err)
		}

		count := incr.Val()
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(cfg.MaxRequests) && !outcome.Exceeded {
			ttl, err := rl.redis.TTL(ctx, key).Result()
			if err != nil {
				return RateLimitOutcome{}, fmt.Errorf("reading rate limit TTL: %w", err)
			}
			retryAfter := int(ttl.Seconds())
			if retryAfter <= 0 {
				retryAfter = cfg.WindowSeconds
			}
			outcome = RateLimitOutcome{Exceeded: true, RetryAfterS: retryAfter}
		}
	}

	return outcome, nil
}
