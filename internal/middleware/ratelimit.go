package middleware

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"momentum/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when Redis cannot be asked.
type FailPolicy int

const (
	FailOpen FailPolicy = iota
	// FailClosed answers 503 instead of letting the request through.
	FailClosed
)

// Rule is a fixed-window limit on one mutation, counted per user or, for
// anonymous callers, per IP.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	Policy FailPolicy
}

var (
	ShareRule     = Rule{Name: "share", Limit: 30, Window: time.Minute}
	CommentRule   = Rule{Name: "create_comment", Limit: 10, Window: time.Minute}
	FollowRule    = Rule{Name: "follow", Limit: 30, Window: time.Minute}
	ReconcileRule = Rule{Name: "reconcile", Limit: 2, Window: time.Minute, Policy: FailClosed}
)

// Decision is the outcome of one CheckRateLimit call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is only set when the request was denied.
	RetryAfter time.Duration
}

func limitsDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit counts one hit against rule for id. Limits are off unless
// APP_ENV names a deployed environment.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, rule Rule, id string) (Decision, error) {
	if limitsDisabled() {
		return Decision{Allowed: true, Remaining: rule.Limit}, nil
	}
	if rdb == nil {
		return Decision{}, fmt.Errorf("rate limit %s: redis client is nil", rule.Name)
	}

	key := fmt.Sprintf("rl:%s:%s", rule.Name, id)
	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if cnt == 1 {
		if err := rdb.Expire(ctx, key, rule.Window).Err(); err != nil {
			return Decision{}, err
		}
	}

	d := Decision{Allowed: cnt <= int64(rule.Limit), Remaining: rule.Limit - int(cnt)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		ttl, err := rdb.TTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = rule.Window
		}
		d.RetryAfter = ttl
	}
	return d, nil
}

// RateLimit enforces rule on the wrapped route. Place it after
// AuthRequired so signed-in callers are counted by user id.
func RateLimit(rdb *redis.Client, rule Rule) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid := CurrentUserID(c); uid != 0 {
			id = fmt.Sprintf("user:%d", uid)
		}

		d, err := CheckRateLimit(c.UserContext(), rdb, rule, id)
		if err != nil {
			if rule.Policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit unavailable, rejecting",
					"rule", rule.Name, "error", err.Error())
				return models.RespondWithError(c, fiber.StatusServiceUnavailable,
					models.NewTransientStoreError("rate limiter", err))
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(d.RetryAfter.Round(time.Second)/time.Second)))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Rate limit exceeded"))
		}
		return c.Next()
	}
}
