package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingCountScript records one event and returns the count inside the
// trailing window, atomically. A sorted set per (actor, action) keyed by
// event time; stale members are trimmed on every call.
// KEYS[1] = counter key
// ARGV[1] = now (unix micros)
// ARGV[2] = window start (unix micros)
// ARGV[3] = member (unique per event)
// ARGV[4] = key TTL seconds
var slidingCountScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local start = tonumber(ARGV[2])
local member = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, "-inf", start)
redis.call("ZADD", key, now, member)
redis.call("EXPIRE", key, ttl)
return redis.call("ZCARD", key)
`)

// RedisEventCounter is an optional hot-path counter for high-frequency event
// types (message.blocked). It mirrors ledger writes into Redis sorted sets so
// escalation checks avoid a SQL range count per message. The SQL ledger stays
// the source of truth; this cache fails open.
type RedisEventCounter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEventCounter connects a counter to the given Redis address.
func NewRedisEventCounter(addr, password string, db int) *RedisEventCounter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisEventCounter{client: rdb, ttl: 2 * time.Hour}
}

func (c *RedisEventCounter) key(actorUserID, actionType string) string {
	return fmt.Sprintf("tsev:%s:%s", actionType, actorUserID)
}

// RecordAndCount registers one occurrence at now and returns the number of
// occurrences after since, this one included.
func (c *RedisEventCounter) RecordAndCount(ctx context.Context, actorUserID, actionType string, now, since time.Time) (int, error) {
	member := fmt.Sprintf("%d", now.UnixNano())
	res, err := slidingCountScript.Run(ctx, c.client,
		[]string{c.key(actorUserID, actionType)},
		now.UnixMicro(), since.UnixMicro(), member, int(c.ttl.Seconds()),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis sliding count: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("redis sliding count: unexpected reply %T", res)
	}
	return int(n), nil
}

// CountEvents implements EventCounter over the cached window.
func (c *RedisEventCounter) CountEvents(ctx context.Context, actorUserID, actionType string, since time.Time) (int, error) {
	n, err := c.client.ZCount(ctx,
		c.key(actorUserID, actionType),
		fmt.Sprintf("(%d", since.UnixMicro()), "+inf",
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count events: %w", err)
	}
	return int(n), nil
}

// Close releases the underlying client.
func (c *RedisEventCounter) Close() error {
	return c.client.Close()
}
