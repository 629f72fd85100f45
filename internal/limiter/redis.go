package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript atomically claims min(n, limit-used) and sets the key to
// expire shortly after the UTC day rolls over.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local remaining = limit - used
if remaining <= 0 then
  return 0
end
local granted = n
if granted > remaining then
  granted = remaining
end
redis.call('INCRBY', KEYS[1], granted)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return granted
`)

// RedisCounter externalizes the daily budgets so multiple processes share
// one ledger. Reservation semantics are identical to MemoryCounter.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(addr string) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCounter{client: client}, nil
}

// NewRedisCounterWithClient wraps an existing client (tests).
func NewRedisCounterWithClient(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) dayKey(key string) string {
	return "mailprobe:daily:" + key + ":" + time.Now().UTC().Format("2006-01-02")
}

func (c *RedisCounter) Reserve(ctx context.Context, key string, n, limit int) (int, error) {
	// Expiry a day past midnight keeps the key readable for usage queries
	// while guaranteeing eventual eviction.
	ttl := int(untilMidnightUTC()/time.Second) + 86400
	granted, err := reserveScript.Run(ctx, c.client, []string{c.dayKey(key)}, limit, n, ttl).Int()
	if err != nil {
		return 0, fmt.Errorf("redis reserve: %w", err)
	}
	return granted, nil
}

func (c *RedisCounter) Release(ctx context.Context, key string, n int) {
	c.client.DecrBy(ctx, c.dayKey(key), int64(n))
}

func (c *RedisCounter) Used(ctx context.Context, key string) (int, error) {
	used, err := c.client.Get(ctx, c.dayKey(key)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return used, nil
}
