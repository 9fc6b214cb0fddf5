package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// Burst smooths per-account send rate over short windows on top of the
// persisted hourly/daily counters. Counters live in Redis and expire on
// their own; a nil client disables the check entirely.
type Burst struct {
	client *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
}

// Atomic check-and-increment. Refusing without incrementing keeps a
// denied attempt from consuming quota.
const checkAndIncrScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local new = redis.call("INCRBY", key, 1)
if new == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, new}
`

// NewBurst creates a burst limiter allowing limit sends per window for
// each account.
func NewBurst(client *redis.Client, limit int, window time.Duration) *Burst {
	if window <= 0 {
		window = time.Minute
	}
	return &Burst{
		client: client,
		script: redis.NewScript(checkAndIncrScript),
		limit:  limit,
		window: window,
	}
}

// CheckAndIncr admits or refuses one send for the account and, when
// admitted, counts it against the current window. Redis being down
// fails open so a cache outage never blocks mail.
func (b *Burst) CheckAndIncr(ctx context.Context, accountID uuid.UUID) (Decision, error) {
	if b == nil || b.client == nil || b.limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	window := time.Now().Unix() / int64(b.window.Seconds())
	key := fmt.Sprintf("mailrouter:burst:%s:%d", accountID, window)
	ttl := int(b.window.Seconds()) * 2

	result, err := b.script.Run(ctx, b.client, []string{key}, b.limit, ttl).Slice()
	if err != nil {
		logger.Warn("burst limiter unavailable, allowing send", map[string]interface{}{
			"account_id": accountID.String(),
			"error":      err.Error(),
		})
		return Decision{Allowed: true}, err
	}

	if result[0].(int64) != 1 {
		return Decision{Reason: fmt.Sprintf("burst limit reached (%d/%d per %s)", result[1].(int64), b.limit, b.window)}, nil
	}
	return Decision{Allowed: true}, nil
}
