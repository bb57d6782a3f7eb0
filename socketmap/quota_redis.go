package socketmap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQuotaCache is a QuotaCounter backed by a shared Redis instance, so
// every sfnetd replica behind the same outer listener agrees on a sender's
// hourly/daily counts instead of enforcing the quota independently per
// process (an in-memory-only rate limiter under-counts
// once more than one replica is running).
//
// Each sender gets two keys, one per window, holding a sorted set of send
// timestamps (score == member, both the unix-nano timestamp) so expired
// entries can be trimmed with ZREMRANGEBYSCORE without a separate sweep.
type RedisQuotaCache struct {
	client *redis.Client
}

func NewRedisQuotaCache(addr string) *RedisQuotaCache {
	return &RedisQuotaCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisQuotaCacheFromClient lets tests inject a client pointed at
// miniredis instead of a real network address.
func NewRedisQuotaCacheFromClient(client *redis.Client) *RedisQuotaCache {
	return &RedisQuotaCache{client: client}
}

func (c *RedisQuotaCache) CheckAndIncrement(ctx context.Context, sender string, now time.Time) (int, int, error) {
	hourKey := "sfnet:quota:hour:" + sender
	dayKey := "sfnet:quota:day:" + sender
	member := fmt.Sprintf("%d", now.UnixNano())

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, hourKey, "0", fmt.Sprintf("%d", now.Add(-time.Hour).UnixNano()))
	pipe.ZRemRangeByScore(ctx, dayKey, "0", fmt.Sprintf("%d", now.Add(-24*time.Hour).UnixNano()))
	pipe.ZAdd(ctx, hourKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZAdd(ctx, dayKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, hourKey, time.Hour)
	pipe.Expire(ctx, dayKey, 24*time.Hour)
	hourCountCmd := pipe.ZCard(ctx, hourKey)
	dayCountCmd := pipe.ZCard(ctx, dayKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	return int(hourCountCmd.Val()), int(dayCountCmd.Val()), nil
}

func (c *RedisQuotaCache) SenderCount(ctx context.Context) (int, error) {
	var count int
	iter := c.client.Scan(ctx, 0, "sfnet:quota:day:*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *RedisQuotaCache) Close() error {
	return c.client.Close()
}
