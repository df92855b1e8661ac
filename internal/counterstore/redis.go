package counterstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"momentum/internal/observability"

	"github.com/redis/go-redis/v9"
)

// linkScript adds ARGV[1] to KEYS[1] and, only when it was absent, adds
// ARGV[2] to KEYS[2] and increments KEYS[3..]. Returns {added, counters...}.
var linkScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 1 then
  redis.call('SADD', KEYS[2], ARGV[2])
end
local out = {added}
for i = 3, #KEYS do
  if added == 1 then
    table.insert(out, redis.call('INCR', KEYS[i]))
  else
    table.insert(out, tonumber(redis.call('GET', KEYS[i]) or '0'))
  end
end
return out
`)

// unlinkScript is the inverse of linkScript; counters never go below zero.
var unlinkScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
local out = {removed}
for i = 3, #KEYS do
  local v = tonumber(redis.call('GET', KEYS[i]) or '0')
  if removed == 1 then
    v = v - 1
    if v < 0 then v = 0 end
    redis.call('SET', KEYS[i], tostring(v))
  end
  table.insert(out, v)
end
return out
`)

// decrScript applies a negative delta clamped at zero.
var decrScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0') + tonumber(ARGV[1])
if v < 0 then v = 0 end
redis.call('SET', KEYS[1], tostring(v))
return v
`)

// RedisStore is the production Store backed by Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an initialized client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func track(op string, err error) error {
	outcome := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		outcome = "error"
	}
	observability.CounterStoreOps.WithLabelValues(op, outcome).Inc()
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, track("get", nil)
	}
	return v, track("get", err)
}

func (s *RedisStore) GetMany(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, track("mget", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, track("mget", fmt.Errorf("counter %s: %w", keys[i], err))
		}
		out[keys[i]] = n
	}
	return out, track("mget", nil)
}

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if delta >= 0 {
		v, err := s.rdb.IncrBy(ctx, key, delta).Result()
		return v, track("incr", err)
	}
	v, err := decrScript.Run(ctx, s.rdb, []string{key}, delta).Int64()
	return v, track("decr", err)
}

func (s *RedisStore) SeedCounter(ctx context.Context, key string, value int64) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, 0).Result()
	return ok, track("seed", err)
}

func (s *RedisStore) SetCounter(ctx context.Context, key string, value int64) error {
	return track("set", s.rdb.Set(ctx, key, value, 0).Err())
}

func (s *RedisStore) IsMember(ctx context.Context, set, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, set, member).Result()
	return ok, track("sismember", err)
}

func (s *RedisStore) AreMembers(ctx context.Context, set string, members []string) ([]bool, error) {
	if len(members) == 0 {
		return []bool{}, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	res, err := s.rdb.SMIsMember(ctx, set, args...).Result()
	return res, track("smismember", err)
}

func (s *RedisStore) Members(ctx context.Context, set string) ([]string, error) {
	res, err := s.rdb.SMembers(ctx, set).Result()
	return res, track("smembers", err)
}

func (s *RedisStore) AddMembers(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return track("sadd", s.rdb.SAdd(ctx, set, args...).Err())
}

func (s *RedisStore) Link(ctx context.Context, e Edge) (bool, []int64, error) {
	return s.toggle(ctx, "link", linkScript, e)
}

func (s *RedisStore) Unlink(ctx context.Context, e Edge) (bool, []int64, error) {
	return s.toggle(ctx, "unlink", unlinkScript, e)
}

func (s *RedisStore) toggle(ctx context.Context, op string, script *redis.Script, e Edge) (bool, []int64, error) {
	if err := e.validate(); err != nil {
		return false, nil, err
	}
	span, ctx := observability.StartStoreSpan(ctx, "redis", op)
	defer span.End()

	keys := append([]string{e.Set, e.Mirror}, e.Counters...)
	res, err := script.Run(ctx, s.rdb, keys, e.Member, e.MirrorMember).Int64Slice()
	if err != nil {
		span.SetError(err)
		return false, nil, track(op, err)
	}
	if len(res) != 1+len(e.Counters) {
		return false, nil, track(op, fmt.Errorf("counterstore: %s returned %d values", op, len(res)))
	}
	return res[0] == 1, res[1:], track(op, nil)
}

func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return track("zadd", s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) ZRem(ctx context.Context, key, member string) error {
	return track("zrem", s.rdb.ZRem(ctx, key, member).Err())
}

func (s *RedisStore) ZRevRange(ctx context.Context, key string, offset, limit int64) ([]ScoredMember, error) {
	if limit <= 0 {
		return []ScoredMember{}, nil
	}
	// negative indexes count from the tail in Redis
	if offset < 0 {
		offset = 0
	}
	res, err := s.rdb.ZRevRangeWithScores(ctx, key, offset, offset+limit-1).Result()
	if err != nil {
		return nil, track("zrevrange", err)
	}
	out := make([]ScoredMember, 0, len(res))
	for _, z := range res {
		member, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, track("zrevrange", nil)
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	return n, track("zcard", err)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return track("del", s.rdb.Del(ctx, keys...).Err())
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
