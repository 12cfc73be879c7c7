package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/store"
	"github.com/mindloop/trendd/internal/timekey"
)

// Config tunes the aggregation jobs.
type Config struct {
	RollupInterval  time.Duration
	RebuildInterval time.Duration
	CleanupInterval time.Duration

	// RollupDays is how many trailing days each rollup re-reads; late
	// events keep landing in recent buckets, so the window is re-folded
	// every run.
	RollupDays int
	// OverlayMinutes is how far back the rebuild reads realtime buckets
	// when layering live activity over the durable scores.
	OverlayMinutes int
	// CleanupDays is the width of the expired-bucket sweep, counted back
	// from the daily TTL horizon.
	CleanupDays int

	ScanCount         int
	LockTTL           time.Duration
	RankTTL           time.Duration
	RebuildFetchLimit int

	// DailyTTL positions the cleanup cutoff; buckets older than this are
	// already expired or about to be.
	DailyTTL time.Duration

	// DurableRetentionDays prunes daily edge rows older than this many
	// days. Zero keeps every row.
	DurableRetentionDays int

	// Now is replaceable in tests.
	Now func() time.Time
}

func (c *Config) withDefaults() {
	if c.RollupDays <= 0 {
		c.RollupDays = 8
	}
	if c.OverlayMinutes <= 0 {
		c.OverlayMinutes = 30
	}
	if c.CleanupDays <= 0 {
		c.CleanupDays = 30
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
	if c.RebuildFetchLimit <= 0 {
		c.RebuildFetchLimit = 1000
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Aggregator owns the job bodies. Jobs() hands them to a Runner.
type Aggregator struct {
	counter counter.Store
	store   store.Store
	cfg     Config
	logger  *slog.Logger
}

func NewAggregator(cs counter.Store, st store.Store, cfg Config, logger *slog.Logger) *Aggregator {
	cfg.withDefaults()
	return &Aggregator{counter: cs, store: st, cfg: cfg, logger: logger}
}

// Jobs returns the three scheduled jobs in runner form.
func (a *Aggregator) Jobs() []*Job {
	return []*Job{
		{Name: JobRollup, Interval: a.cfg.RollupInterval, Run: a.Rollup},
		{Name: JobRebuild, Interval: a.cfg.RebuildInterval, Run: a.Rebuild},
		{Name: JobCleanup, Interval: a.cfg.CleanupInterval, Run: a.Cleanup},
	}
}

// Rollup folds the trailing daily counter buckets into the durable edge
// table. Each day is scanned and upserted independently so one bad day does
// not abort the rest of the window.
func (a *Aggregator) Rollup(ctx context.Context) error {
	now := a.cfg.Now()
	var firstErr error
	written := 0
	for _, day := range timekey.LastNDays(now, a.cfg.RollupDays) {
		adds, err := a.counter.ScanDailyAdd(ctx, day, a.cfg.ScanCount)
		if err != nil {
			a.logger.Error("scanning daily adds", "day", timekey.DayKey(day), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		views, err := a.counter.ScanDailyView(ctx, day, a.cfg.ScanCount)
		if err != nil {
			a.logger.Error("scanning daily views", "day", timekey.DayKey(day), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n, err := a.store.UpsertDailyEdges(ctx, day, adds, views)
		if err != nil {
			a.logger.Error("upserting daily edges", "day", timekey.DayKey(day), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += n
	}
	if err := a.store.SetBatchCursor(ctx, JobRollup, timekey.DayKey(now)); err != nil {
		// Bookkeeping only; the rollup itself already landed.
		a.logger.Warn("recording rollup cursor", "error", err)
	}
	a.logger.Info("rollup completed", "edges", written, "days", a.cfg.RollupDays)
	return firstErr
}

// Rebuild recomputes the durable windowed scores, rebuilds the global
// ranked caches from them, and layers the last few minutes of realtime
// activity on top so the rankings move between rollups.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	now := a.cfg.Now()
	if _, err := a.store.RebuildEdgeScores(ctx, now); err != nil {
		return fmt.Errorf("rebuilding edge scores: %w", err)
	}

	for _, period := range []model.Period{model.Period7d, model.Period30d} {
		scores, err := a.store.GlobalTop(ctx, period, a.cfg.RebuildFetchLimit)
		if err != nil {
			return fmt.Errorf("loading global top for %s: %w", period, err)
		}
		members := make([]counter.Member, 0, len(scores))
		for _, s := range scores {
			members = append(members, counter.Member{Keyword: s.Keyword, Score: s.Score})
		}
		if err := a.counter.RankRebuild(ctx, timekey.GlobalRankKey(string(period)), members, a.cfg.RankTTL); err != nil {
			return fmt.Errorf("rebuilding global rank for %s: %w", period, err)
		}
	}

	if err := a.applyRealtimeOverlay(ctx, now); err != nil {
		return fmt.Errorf("applying realtime overlay: %w", err)
	}

	if err := a.store.SetBatchCursor(ctx, JobRebuild, timekey.MinuteKey(now)); err != nil {
		a.logger.Warn("recording rebuild cursor", "error", err)
	}
	return nil
}

// applyRealtimeOverlay folds the recent minute buckets into the ranked
// caches with the same 3:1 weighting the durable scores use.
func (a *Aggregator) applyRealtimeOverlay(ctx context.Context, now time.Time) error {
	for _, minute := range timekey.LastNMinutes(now, a.cfg.OverlayMinutes) {
		adds, err := a.counter.ScanRealtimeAdd(ctx, minute, a.cfg.ScanCount)
		if err != nil {
			return fmt.Errorf("scanning realtime adds: %w", err)
		}
		if err := a.overlayCounts(ctx, adds, model.AddWeight); err != nil {
			return err
		}
		views, err := a.counter.ScanRealtimeView(ctx, minute, a.cfg.ScanCount)
		if err != nil {
			return fmt.Errorf("scanning realtime views: %w", err)
		}
		if err := a.overlayCounts(ctx, views, model.ViewWeight); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) overlayCounts(ctx context.Context, counts model.CountMap, weight int) error {
	for parent, children := range counts {
		for child, n := range children {
			delta := float64(n * int64(weight))
			for _, period := range []model.Period{model.Period7d, model.Period30d} {
				if err := a.counter.RankIncr(ctx, timekey.GlobalRankKey(string(period)), child, delta); err != nil {
					return fmt.Errorf("overlaying global rank: %w", err)
				}
				if err := a.counter.RankIncr(ctx, timekey.ParentRankKey(parent, string(period)), child, delta); err != nil {
					return fmt.Errorf("overlaying parent rank: %w", err)
				}
			}
		}
	}
	return nil
}

// Cleanup sweeps counter buckets past the daily TTL horizon and, when a
// durable retention is configured, prunes old edge rows.
func (a *Aggregator) Cleanup(ctx context.Context) error {
	now := a.cfg.Now()
	cutoff := now.Add(-a.cfg.DailyTTL)
	deleted := 0
	for i := 0; i < a.cfg.CleanupDays; i++ {
		day := cutoff.AddDate(0, 0, -i)
		for _, pattern := range []string{timekey.DailyAddPattern(day), timekey.DailyViewPattern(day)} {
			n, err := a.counter.DeleteByPattern(ctx, pattern, a.cfg.ScanCount)
			if err != nil {
				return fmt.Errorf("deleting buckets %s: %w", pattern, err)
			}
			deleted += n
		}
	}

	if a.cfg.DurableRetentionDays > 0 {
		pruneCutoff := now.AddDate(0, 0, -a.cfg.DurableRetentionDays)
		n, err := a.store.PruneDailyEdges(ctx, pruneCutoff)
		if err != nil {
			return fmt.Errorf("pruning daily edges: %w", err)
		}
		a.logger.Info("pruned daily edges", "rows", n, "cutoff", timekey.DayKey(pruneCutoff))
	}

	a.logger.Info("cleanup completed", "buckets", deleted)
	return nil
}
