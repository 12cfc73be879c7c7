// Package counter defines the hot-path counter store: per-bucket edge
// counters, ranked caches, batch locks, and pattern cleanup. RedisStore is
// the production implementation; MemoryStore serves single-process
// deployments and tests.
package counter

import (
	"context"
	"time"

	"github.com/mindloop/trendd/internal/model"
)

// Member is one scored entry of a ranked cache.
type Member struct {
	Keyword string
	Score   float64
}

// Store is the counter-store surface shared by the ingest workers, the
// batch jobs, and the query service.
type Store interface {
	// IncrementAdd bumps the daily and realtime add counters for the edge.
	// TTLs are applied to the buckets on every write.
	IncrementAdd(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error
	// IncrementView is IncrementAdd for the view counter family.
	IncrementView(ctx context.Context, parent, child string, ts time.Time, dailyTTL, realtimeTTL time.Duration) error

	// ScanDailyAdd collects every add counter bucket for the given day into
	// a parent -> child -> count map. scanCount hints the per-iteration
	// batch size of the underlying key scan.
	ScanDailyAdd(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error)
	ScanDailyView(ctx context.Context, date time.Time, scanCount int) (model.CountMap, error)
	// ScanRealtimeAdd collects the add counters of one minute bucket.
	ScanRealtimeAdd(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error)
	ScanRealtimeView(ctx context.Context, minute time.Time, scanCount int) (model.CountMap, error)

	// RankRebuild atomically replaces the ranked cache at key with the
	// given members and applies ttl. An empty member list deletes the key.
	RankRebuild(ctx context.Context, key string, members []Member, ttl time.Duration) error
	// RankIncr adds delta to one member's score, creating it at delta when
	// absent.
	RankIncr(ctx context.Context, key, keyword string, delta float64) error
	// RankTop returns up to limit members in descending score order.
	RankTop(ctx context.Context, key string, limit int) ([]Member, error)
	// RankExists reports whether the ranked cache at key is populated. The
	// error is non-nil only when the backend could not answer; callers must
	// not treat a backend error as a miss.
	RankExists(ctx context.Context, key string) (bool, error)

	// TryLock acquires the named batch lock for ttl if it is free. The
	// token identifies the holder; Unlock releases only when it matches.
	TryLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name, token string) error

	// DeleteByPattern removes every key matching pattern and returns the
	// number deleted.
	DeleteByPattern(ctx context.Context, pattern string, scanCount int) (int, error)

	Close() error
}
