// Package cache wraps the Redis client with the handful of primitives the
// import and feed code is built on.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scored is a sorted set member with its score.
type Scored struct {
	Score  int64
	Member string
}

type Cache struct {
	rdb *redis.Client
}

// supported URL formats:
//
//	redis://[:password@]host:port/db
//	rediss://... for TLS
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

func NewFromClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get returns the value at key and whether it existed.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// MGet reads many keys in one round trip. Absent keys are missing from the
// returned map.
func (c *Cache) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNXMany issues one SET NX EX per entry in a single pipeline and reports,
// per key, whether this call created it.
func (c *Cache) SetNXMany(ctx context.Context, entries map[string]string, ttl time.Duration) (map[string]bool, error) {
	created := make(map[string]bool, len(entries))
	if len(entries) == 0 {
		return created, nil
	}
	cmds := make(map[string]*redis.BoolCmd, len(entries))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			cmds[k] = pipe.SetNX(ctx, k, v, ttl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setnx pipeline: %w", err)
	}
	for k, cmd := range cmds {
		created[k] = cmd.Val()
	}
	return created, nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("del: %w", err)
	}
	return n, nil
}

var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// CompareAndDelete removes key only when it currently holds value. It
// reports whether a delete happened.
func (c *Cache) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return n == 1, nil
}

// a score that is already taken keeps its member
var zaddNew = redis.NewScript(`
local added = 0
for i = 1, #ARGV, 2 do
	if redis.call('ZCOUNT', KEYS[1], ARGV[i], ARGV[i]) == 0 then
		added = added + redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
	end
end
return added
`)

// ZAddNew adds each member whose score is not yet present in the set and
// returns how many were added.
func (c *Cache) ZAddNew(ctx context.Context, key string, members []Scored) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(members)*2)
	for _, m := range members {
		args = append(args, m.Score, m.Member)
	}
	n, err := zaddNew.Run(ctx, c.rdb, []string{key}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("zadd %s: %w", key, err)
	}
	return n, nil
}

// ZRevRangeBelow returns up to limit members with score strictly below
// below, highest score first. A nil below starts from the top of the set.
func (c *Cache) ZRevRangeBelow(ctx context.Context, key string, below *int64, limit int) ([]Scored, error) {
	upper := "+inf"
	if below != nil {
		upper = "(" + strconv.FormatInt(*below, 10)
	}
	zs, err := c.rdb.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrangebyscore %s: %w", key, err)
	}
	return toScored(zs), nil
}

// ZRangeAbove returns up to limit members with score strictly above above,
// lowest score first.
func (c *Cache) ZRangeAbove(ctx context.Context, key string, above int64, limit int) ([]Scored, error) {
	zs, err := c.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(above, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	return toScored(zs), nil
}

// ZByScore returns the member stored at exactly score.
func (c *Cache) ZByScore(ctx context.Context, key string, score int64) (string, bool, error) {
	s := strconv.FormatInt(score, 10)
	vals, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: s, Max: s, Count: 1}).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	if len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

// ZMaxScore returns the highest score in the set.
func (c *Cache) ZMaxScore(ctx context.Context, key string) (int64, bool, error) {
	zs, err := c.ZRevRangeBelow(ctx, key, nil, 1)
	if err != nil {
		return 0, false, err
	}
	if len(zs) == 0 {
		return 0, false, nil
	}
	return zs[0].Score, true, nil
}

// RPush appends values to the list at key and sets its expiry in the same
// transaction. A zero ttl leaves the expiry untouched.
func (c *Cache) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// PopFront removes and returns up to n values from the head of the list.
func (c *Cache) PopFront(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var lrange *redis.StringSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, int64(n-1))
		pipe.LTrim(ctx, key, int64(n), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", key, err)
	}
	return lrange.Val(), nil
}

func (c *Cache) Len(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}
