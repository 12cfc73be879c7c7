package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/timekey"
)

// RedisStore implements Store on a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) increment(ctx context.Context, dailyKey, realtimeKey, child string, dailyTTL, realtimeTTL time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, dailyKey, child, 1)
	pipe.Expire(ctx, dailyKey, dailyTTL)
	pipe.HIncrBy(ctx, realtimeKey, child, 1)
	pipe.Expire(ctx, realtimeKey, realtimeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment %s: %w", dailyKey, err)
	}
	return nil
}

func (s *RedisStore) IncrementAdd(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error {
	return s.increment(ctx, timekey.DailyAddKey(ts, parent), timekey.RealtimeAddKey(ts, parent), child, dailyTTL, realtimeTTL)
}

func (s *RedisStore) IncrementView(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error {
	return s.increment(ctx, timekey.DailyViewKey(ts, parent), timekey.RealtimeViewKey(ts, parent), child, dailyTTL, realtimeTTL)
}

// scanBuckets walks every key matching pattern and folds each hash into a
// parent -> child -> count map.
func (s *RedisStore) scanBuckets(ctx context.Context, pattern string, scanCount int) (model.CountMap, error) {
	out := make(model.CountMap)
	iter := s.client.Scan(ctx, 0, pattern, int64(scanCount)).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		parent := timekey.ParentFromKey(key)
		for child, raw := range fields {
			var n int64
			if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
				return nil, fmt.Errorf("parse count %s[%s]=%q: %w", key, child, raw, err)
			}
			out.Add(parent, child, n)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return out, nil
}

func (s *RedisStore) ScanDailyAdd(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error) {
	return s.scanBuckets(ctx, timekey.DailyAddPattern(date), scanCount)
}

func (s *RedisStore) ScanDailyView(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error) {
	return s.scanBuckets(ctx, timekey.DailyViewPattern(date), scanCount)
}

func (s *RedisStore) ScanRealtimeAdd(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error) {
	return s.scanBuckets(ctx, timekey.RealtimeAddPattern(minute), scanCount)
}

func (s *RedisStore) ScanRealtimeView(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error) {
	return s.scanBuckets(ctx, timekey.RealtimeViewPattern(minute), scanCount)
}

func (s *RedisStore) RankRebuild(ctx context.Context, key string, members []Member, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		zs := make([]redis.Z, 0, len(members))
		for _, m := range members {
			zs = append(zs, redis.Z{Member: m.Keyword, Score: m.Score})
		}
		pipe.ZAdd(ctx, key, zs...)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rank rebuild %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RankIncr(ctx context.Context, key, keyword string, delta float64) error {
	if err := s.client.ZIncrBy(ctx, key, delta, keyword).Err(); err != nil {
		return fmt.Errorf("rank incr %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RankTop(ctx context.Context, key string, limit int) ([]Member, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("rank top %s: %w", key, err)
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		kw, _ := z.Member.(string)
		out = append(out, Member{Keyword: kw, Score: z.Score})
	}
	return out, nil
}

func (s *RedisStore) RankExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rank exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) TryLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, timekey.BatchLockKey(name), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	return ok, nil
}

// unlockScript deletes the lock only while the caller still holds it, so a
// slow job cannot release a lock that expired and was re-acquired elsewhere.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

func (s *RedisStore) Unlock(ctx context.Context, name, token string) error {
	if err := s.client.Eval(ctx, unlockScript, []string{timekey.BatchLockKey(name)}, token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string, scanCount int) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, pattern, int64(scanCount)).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("del %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return deleted, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
