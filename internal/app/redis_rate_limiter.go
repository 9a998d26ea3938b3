package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter scopes.
const (
	ScopeDonationIntent = "donation_intent"
	ScopeCloseCode      = "close_code"
)

// RateLimiter counts hits for a subject within a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// fixedWindowScript increments the window counter, arms its expiry on the first hit and
// returns {count, remaining_ms}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {n, remaining}
`)

const minLimiterWindow = time.Second

// RedisRateLimiter counts hits per scope and subject in fixed Redis windows, so every
// replica of the service shares the same budget.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "sewlesew:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) key(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
}

// ConsumeRateLimit records one hit and reports the running count for the window.
// A nil limiter, a non-positive limit, or an empty scope/subject never limits.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.ToLower(strings.TrimSpace(subject))
	if scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < minLimiterWindow {
		window = minLimiterWindow
	}

	reply, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(scope, subject)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(reply))
	}

	remaining := time.Duration(reply[1]) * time.Millisecond
	if remaining <= 0 {
		remaining = window
	}
	retryAfter := int(math.Ceil(remaining.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(reply[0]), retryAfter, nil
}

// enforceRateLimit returns a *RateLimitError once count exceeds limit. Limiter outages fail open.
func enforceRateLimit(ctx context.Context, limiter RateLimiter, logger *slog.Logger, scope, subject string, limit int, window time.Duration) error {
	if limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, scope, subject, limit, window)
	if err != nil {
		logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "error", err)
		return nil
	}
	if count > limit {
		return &RateLimitError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}
