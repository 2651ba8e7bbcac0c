package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// dailySpendTTL is the Redis TTL for cached daily-spend totals (§4.5: "cached
// per agent for 60s").
const dailySpendTTL = 60 * time.Second

// nearCapFraction is the "within 10% of cap" threshold (§4.5) at which the
// cache is bypassed in favor of a fresh DB read, so an agent riding close to
// its daily limit can't use a stale cache entry to sneak past it.
const nearCapFraction = 0.10

const redisKeyPrefix = "policy:spend:"

// Cache is the agent daily-spend lookup used by Evaluate's step 7. It is a
// Redis hot-path cache over a Postgres fallback query, grounded on the
// teacher's alert.Deduplicator.Check shape (Redis Get, fall through to DB on
// miss/error, warm the cache on a DB hit).
type Cache struct {
	rdb    *redis.Client
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCache creates a daily-spend Cache.
func NewCache(rdb *redis.Client, pool *pgxpool.Pool, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, pool: pool, logger: logger}
}

func redisKey(agentID string) string {
	return redisKeyPrefix + agentID
}

// TodaySpend implements SpendLookup: a Redis hot-path read over a Postgres
// fallback, bypassing the cache whenever a cached value would already be
// within nearCapFraction of capSats (§4.5), since a stale read near the
// daily-limit boundary is the one place a 60s-old number is unacceptable.
func (c *Cache) TodaySpend(ctx context.Context, agentID string, capSats int64) (int64, error) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, redisKey(agentID)).Result()
		if err == nil {
			spent, parseErr := strconv.ParseInt(val, 10, 64)
			if parseErr == nil {
				if !nearCap(spent, capSats) {
					return spent, nil
				}
				// Near the cap: fall through to a fresh DB read below.
			} else {
				c.logger.Warn("invalid value in daily-spend cache", "agent_id", agentID, "value", val)
			}
		} else if err != redis.Nil {
			c.logger.Warn("redis daily-spend lookup failed, falling back to DB", "error", err)
		}
	}

	spent, err := c.queryTodaySpend(ctx, agentID)
	if err != nil {
		return 0, err
	}

	c.cacheSet(ctx, agentID, spent)
	return spent, nil
}

func nearCap(spent, cap int64) bool {
	if cap <= 0 {
		return true
	}
	return float64(cap-spent) <= float64(cap)*nearCapFraction
}

// queryTodaySpend sums successful debit transactions for agentID since
// local midnight UTC (§4.5).
func (c *Cache) queryTodaySpend(ctx context.Context, agentID string) (int64, error) {
	var spent int64
	err := c.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_sats), 0)
		FROM transactions
		WHERE agent_id = $1
		  AND type = 'debit'
		  AND created_at >= date_trunc('day', now() AT TIME ZONE 'utc')
	`, agentID).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("querying today's spend: %w", err)
	}
	return spent, nil
}

func (c *Cache) cacheSet(ctx context.Context, agentID string, spent int64) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKey(agentID), spent, dailySpendTTL).Err(); err != nil {
		c.logger.Warn("failed to set daily-spend cache", "error", err, "agent_id", agentID)
	}
}

// Invalidate drops the cached entry for agentID, called immediately after a
// successful Debit so the next call in the same request burst sees the
// updated total rather than waiting out the TTL.
func (c *Cache) Invalidate(ctx context.Context, agentID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, redisKey(agentID)).Err(); err != nil {
		c.logger.Warn("failed to invalidate daily-spend cache", "error", err, "agent_id", agentID)
	}
}
