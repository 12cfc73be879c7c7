package counter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/timekey"
)

// MemoryStore is an in-process Store for single-instance deployments
// without Redis, and for tests. Expiry is lazy: entries are dropped when
// read or written past their deadline.
type MemoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]int64
	ranks   map[string]map[string]float64
	locks   map[string]string
	expires map[string]time.Time

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]int64),
		ranks:   make(map[string]map[string]float64),
		locks:   make(map[string]string),
		expires: make(map[string]time.Time),
		Now:     time.Now,
	}
}

// expireLocked drops the key if its deadline has passed. Callers hold mu.
func (s *MemoryStore) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok || s.Now().Before(deadline) {
		return
	}
	delete(s.hashes, key)
	delete(s.ranks, key)
	delete(s.locks, key)
	delete(s.expires, key)
}

func (s *MemoryStore) touchLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expires[key] = s.Now().Add(ttl)
	}
}

func (s *MemoryStore) incrField(key, field string, ttl time.Duration) {
	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]int64)
		s.hashes[key] = h
	}
	h[field]++
	s.touchLocked(key, ttl)
}

func (s *MemoryStore) IncrementAdd(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrField(timekey.DailyAddKey(ts, parent), child, dailyTTL)
	s.incrField(timekey.RealtimeAddKey(ts, parent), child, realtimeTTL)
	return nil
}

func (s *MemoryStore) IncrementView(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrField(timekey.DailyViewKey(ts, parent), child, dailyTTL)
	s.incrField(timekey.RealtimeViewKey(ts, parent), child, realtimeTTL)
	return nil
}

// matchPattern supports the '*' wildcard used by the bucket patterns.
func matchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(key, parts[i])
		if idx < 0 {
			return false
		}
		key = key[idx+len(parts[i]):]
	}
	return strings.HasSuffix(key, parts[len(parts)-1])
}

func (s *MemoryStore) scan(pattern string) model.CountMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(model.CountMap)
	for key := range s.hashes {
		if !matchPattern(pattern, key) {
			continue
		}
		s.expireLocked(key)
		fields, ok := s.hashes[key]
		if !ok {
			continue
		}
		parent := timekey.ParentFromKey(key)
		for child, n := range fields {
			out.Add(parent, child, n)
		}
	}
	return out
}

func (s *MemoryStore) ScanDailyAdd(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error) {
	return s.scan(timekey.DailyAddPattern(date)), nil
}

func (s *MemoryStore) ScanDailyView(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error) {
	return s.scan(timekey.DailyViewPattern(date)), nil
}

func (s *MemoryStore) ScanRealtimeAdd(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error) {
	return s.scan(timekey.RealtimeAddPattern(minute)), nil
}

func (s *MemoryStore) ScanRealtimeView(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error) {
	return s.scan(timekey.RealtimeViewPattern(minute)), nil
}

func (s *MemoryStore) RankRebuild(ctx context.Context, key string, members []Member, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ranks, key)
	delete(s.expires, key)
	if len(members) == 0 {
		return nil
	}
	rank := make(map[string]float64, len(members))
	for _, m := range members {
		rank[m.Keyword] = m.Score
	}
	s.ranks[key] = rank
	s.touchLocked(key, ttl)
	return nil
}

func (s *MemoryStore) RankIncr(ctx context.Context, key, keyword string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	rank, ok := s.ranks[key]
	if !ok {
		rank = make(map[string]float64)
		s.ranks[key] = rank
	}
	rank[keyword] += delta
	return nil
}

func (s *MemoryStore) RankTop(ctx context.Context, key string, limit int) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	rank := s.ranks[key]
	out := make([]Member, 0, len(rank))
	for kw, score := range rank {
		out = append(out, Member{Keyword: kw, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Keyword < out[j].Keyword
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RankExists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return len(s.ranks[key]) > 0, nil
}

func (s *MemoryStore) TryLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timekey.BatchLockKey(name)
	s.expireLocked(key)
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = token
	s.touchLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Unlock(ctx context.Context, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timekey.BatchLockKey(name)
	s.expireLocked(key)
	if s.locks[key] == token {
		delete(s.locks, key)
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) DeleteByPattern(ctx context.Context, pattern string, scanCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key := range s.hashes {
		if matchPattern(pattern, key) {
			delete(s.hashes, key)
			delete(s.expires, key)
			deleted++
		}
	}
	for key := range s.ranks {
		if matchPattern(pattern, key) {
			delete(s.ranks, key)
			delete(s.expires, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }
