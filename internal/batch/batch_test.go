package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/timekey"
)

var testNow = time.Date(2026, 8, 31, 15, 42, 0, 0, time.UTC)

// fakeStore records rollup writes and serves canned rankings.
type fakeStore struct {
	mu        sync.Mutex
	upserts   map[string]map[string]map[string]model.EdgePair // day -> parent -> child
	globalTop []model.KeywordScore
	cursors   map[string]string
	rebuilt   int
	pruned    int64
	pruneArg  time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		upserts: make(map[string]map[string]map[string]model.EdgePair),
		cursors: make(map[string]string),
	}
}

func (f *fakeStore) UpsertDailyEdges(ctx context.Context, date time.Time, adds, views model.CountMap) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	merged := model.MergeCounts(adds, views)
	if len(merged) > 0 {
		f.upserts[timekey.DayKey(date)] = merged
	}
	n := 0
	for _, children := range merged {
		n += len(children)
	}
	return n, nil
}

func (f *fakeStore) RebuildEdgeScores(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt++
	return int64(len(f.globalTop)), nil
}

func (f *fakeStore) GlobalTop(ctx context.Context, period model.Period, limit int) ([]model.KeywordScore, error) {
	return f.globalTop, nil
}

func (f *fakeStore) ParentTop(ctx context.Context, parent string, period model.Period, limit int) ([]model.KeywordScore, error) {
	return nil, nil
}

func (f *fakeStore) SearchTop(ctx context.Context, keyword string, period model.Period, limit int) ([]model.KeywordScore, error) {
	return nil, nil
}

func (f *fakeStore) GetBatchCursor(ctx context.Context, jobName string) (*model.BatchCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.cursors[jobName]
	if !ok {
		return nil, nil
	}
	return &model.BatchCursor{JobName: jobName, Position: pos}, nil
}

func (f *fakeStore) SetBatchCursor(ctx context.Context, jobName, position string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[jobName] = position
	return nil
}

func (f *fakeStore) PruneDailyEdges(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned++
	f.pruneArg = cutoff
	return 3, nil
}

func (f *fakeStore) ExportScores(ctx context.Context) ([]model.EdgeScore, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testAggregator(cs counter.Store, st *fakeStore, mutate func(*Config)) *Aggregator {
	cfg := Config{
		RollupDays:     8,
		OverlayMinutes: 30,
		ScanCount:      100,
		LockTTL:        5 * time.Minute,
		RankTTL:        time.Hour,
		DailyTTL:       192 * time.Hour,
		Now:            func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewAggregator(cs, st, cfg, testLogger())
}

func TestRollupFoldsCountersIntoStore(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()
	st := newFakeStore()

	// Activity today and yesterday, inside the window.
	for i := 0; i < 4; i++ {
		cs.IncrementAdd(ctx, "java", "spring", testNow, 192*time.Hour, 2*time.Hour)
	}
	cs.IncrementView(ctx, "java", "spring", testNow, 192*time.Hour, 2*time.Hour)
	yesterday := testNow.AddDate(0, 0, -1)
	cs.IncrementAdd(ctx, "go", "nats", yesterday, 192*time.Hour, 2*time.Hour)

	a := testAggregator(cs, st, nil)
	if err := a.Rollup(ctx); err != nil {
		t.Fatalf("Rollup: %v", err)
	}

	today := st.upserts[timekey.DayKey(testNow)]
	if p := today["java"]["spring"]; p.Add != 4 || p.View != 1 {
		t.Errorf("today java/spring = %+v", p)
	}
	yd := st.upserts[timekey.DayKey(yesterday)]
	if p := yd["go"]["nats"]; p.Add != 1 {
		t.Errorf("yesterday go/nats = %+v", p)
	}
	if st.cursors[JobRollup] != timekey.DayKey(testNow) {
		t.Errorf("cursor = %q", st.cursors[JobRollup])
	}
}

func TestRebuildPopulatesRankedCaches(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()
	st := newFakeStore()
	st.globalTop = []model.KeywordScore{
		{Keyword: "spring", Score: 100},
		{Keyword: "nats", Score: 40},
	}

	a := testAggregator(cs, st, nil)
	if err := a.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if st.rebuilt != 1 {
		t.Errorf("edge scores rebuilt %d times", st.rebuilt)
	}
	for _, period := range []string{"7d", "30d"} {
		top, err := cs.RankTop(ctx, timekey.GlobalRankKey(period), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(top) != 2 || top[0].Keyword != "spring" || top[0].Score != 100 {
			t.Errorf("%s top = %v", period, top)
		}
	}
}

func TestRebuildAppliesRealtimeOverlay(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()
	st := newFakeStore()
	st.globalTop = []model.KeywordScore{{Keyword: "spring", Score: 10}}

	// Live activity within the overlay window: 2 adds and 1 view.
	cs.IncrementAdd(ctx, "java", "spring", testNow.Add(-2*time.Minute), 192*time.Hour, 2*time.Hour)
	cs.IncrementAdd(ctx, "java", "spring", testNow.Add(-2*time.Minute), 192*time.Hour, 2*time.Hour)
	cs.IncrementView(ctx, "java", "spring", testNow.Add(-5*time.Minute), 192*time.Hour, 2*time.Hour)
	// Outside the window: ignored.
	cs.IncrementAdd(ctx, "java", "spring", testNow.Add(-45*time.Minute), 192*time.Hour, 2*time.Hour)

	a := testAggregator(cs, st, nil)
	if err := a.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// Base 10, plus 2 adds * 3 + 1 view * 1 = 17.
	top, err := cs.RankTop(ctx, timekey.GlobalRankKey("7d"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Score != 17 {
		t.Errorf("global 7d = %v, want score 17", top)
	}

	// The parent-scoped cache gets the same overlay.
	ptop, err := cs.RankTop(ctx, timekey.ParentRankKey("java", "30d"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ptop) != 1 || ptop[0].Score != 7 {
		t.Errorf("parent 30d = %v, want score 7", ptop)
	}
}

func TestCleanupDeletesExpiredBuckets(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()
	st := newFakeStore()

	// A bucket just past the TTL horizon. No TTL here so lazy expiry
	// cannot remove it first; cleanup must.
	expired := testNow.Add(-192 * time.Hour)
	cs.IncrementAdd(ctx, "java", "spring", expired, 0, 0)
	// A current bucket that must survive.
	cs.IncrementAdd(ctx, "go", "nats", testNow, 0, 0)

	a := testAggregator(cs, st, nil)
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	old, _ := cs.ScanDailyAdd(ctx, expired, 100)
	if len(old) != 0 {
		t.Errorf("expired bucket survived: %v", old)
	}
	cur, _ := cs.ScanDailyAdd(ctx, testNow, 100)
	if cur["go"]["nats"] != 1 {
		t.Errorf("current bucket damaged: %v", cur)
	}
	if st.pruned != 0 {
		t.Error("durable prune ran without retention configured")
	}
}

func TestCleanupPrunesDurableRowsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()
	st := newFakeStore()

	a := testAggregator(cs, st, func(c *Config) { c.DurableRetentionDays = 90 })
	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if st.pruned != 1 {
		t.Errorf("prune ran %d times, want 1", st.pruned)
	}
	want := testNow.AddDate(0, 0, -90)
	if !st.pruneArg.Equal(want) {
		t.Errorf("prune cutoff = %v, want %v", st.pruneArg, want)
	}
}

func TestRunnerSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()

	ran := 0
	job := &Job{Name: JobRollup, Interval: time.Hour, Run: func(ctx context.Context) error {
		ran++
		return nil
	}}
	r := NewRunner(cs, 5*time.Minute, []*Job{job}, testLogger())

	// Another instance holds the lock.
	if ok, _ := cs.TryLock(ctx, JobRollup, "other-holder", 5*time.Minute); !ok {
		t.Fatal("setup lock failed")
	}
	r.RunNow(ctx, job)
	if ran != 0 {
		t.Errorf("job ran %d times under a held lock", ran)
	}

	if err := cs.Unlock(ctx, JobRollup, "other-holder"); err != nil {
		t.Fatal(err)
	}
	r.RunNow(ctx, job)
	if ran != 1 {
		t.Errorf("job ran %d times after lock release, want 1", ran)
	}
	if job.State() != StateIdle {
		t.Errorf("job state = %s, want idle", job.State())
	}

	// The run released its own lock.
	if ok, _ := cs.TryLock(ctx, JobRollup, "next", 5*time.Minute); !ok {
		t.Error("lock not released after run")
	}
}

func TestRunnerRecoversFromPanicAndFailure(t *testing.T) {
	ctx := context.Background()
	cs := counter.NewMemoryStore()

	panics := &Job{Name: JobRebuild, Interval: time.Hour, Run: func(ctx context.Context) error {
		panic("boom")
	}}
	fails := &Job{Name: JobCleanup, Interval: time.Hour, Run: func(ctx context.Context) error {
		return errors.New("nope")
	}}
	r := NewRunner(cs, 5*time.Minute, []*Job{panics, fails}, testLogger())

	r.RunNow(ctx, panics)
	r.RunNow(ctx, fails)

	// Both locks were released despite the failures.
	for _, name := range []string{JobRebuild, JobCleanup} {
		if ok, _ := cs.TryLock(ctx, name, "probe", time.Minute); !ok {
			t.Errorf("lock %s not released", name)
		}
	}
}
