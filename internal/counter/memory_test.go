package counter

import (
	"context"
	"testing"
	"time"

	"github.com/mindloop/trendd/internal/timekey"
)

var (
	testTime = time.Date(2026, 8, 31, 15, 42, 0, 0, time.UTC)
	dayTTL   = 192 * time.Hour
	rtTTL    = 2 * time.Hour
)

func TestMemoryIncrementAndScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := s.IncrementAdd(ctx, "java", "spring", testTime, dayTTL, rtTTL); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.IncrementAdd(ctx, "java", "jpa", testTime, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementView(ctx, "go", "nats", testTime, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}

	adds, err := s.ScanDailyAdd(ctx, testTime, 100)
	if err != nil {
		t.Fatal(err)
	}
	if adds["java"]["spring"] != 3 || adds["java"]["jpa"] != 1 {
		t.Errorf("daily adds = %v", adds)
	}
	if len(adds["go"]) != 0 {
		t.Errorf("views leaked into adds: %v", adds)
	}

	views, err := s.ScanRealtimeView(ctx, testTime, 100)
	if err != nil {
		t.Fatal(err)
	}
	if views["go"]["nats"] != 1 {
		t.Errorf("realtime views = %v", views)
	}

	// A different minute bucket is empty.
	other, err := s.ScanRealtimeAdd(ctx, testTime.Add(time.Minute), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("next-minute bucket not empty: %v", other)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := testTime
	s.Now = func() time.Time { return now }

	if err := s.IncrementAdd(ctx, "java", "spring", testTime, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}

	now = now.Add(rtTTL + time.Minute)
	rt, err := s.ScanRealtimeAdd(ctx, testTime, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rt) != 0 {
		t.Errorf("realtime bucket should have expired: %v", rt)
	}
	daily, err := s.ScanDailyAdd(ctx, testTime, 100)
	if err != nil {
		t.Fatal(err)
	}
	if daily["java"]["spring"] != 1 {
		t.Errorf("daily bucket expired early: %v", daily)
	}

	now = now.Add(dayTTL)
	daily, err = s.ScanDailyAdd(ctx, testTime, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 0 {
		t.Errorf("daily bucket should have expired: %v", daily)
	}
}

func TestMemoryRank(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := timekey.GlobalRankKey("7d")

	err := s.RankRebuild(ctx, key, []Member{
		{Keyword: "spring", Score: 30},
		{Keyword: "jpa", Score: 10},
		{Keyword: "nats", Score: 20},
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.RankExists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("RankExists = %v, %v", ok, err)
	}

	top, err := s.RankTop(ctx, key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].Keyword != "spring" || top[1].Keyword != "nats" {
		t.Errorf("top = %v", top)
	}

	if err := s.RankIncr(ctx, key, "jpa", 25); err != nil {
		t.Fatal(err)
	}
	top, err = s.RankTop(ctx, key, 10)
	if err != nil {
		t.Fatal(err)
	}
	if top[0].Keyword != "jpa" || top[0].Score != 35 {
		t.Errorf("top after incr = %v", top)
	}

	// Rebuild with no members clears the key.
	if err := s.RankRebuild(ctx, key, nil, time.Hour); err != nil {
		t.Fatal(err)
	}
	ok, err = s.RankExists(ctx, key)
	if err != nil || ok {
		t.Errorf("RankExists after clear = %v, %v", ok, err)
	}
}

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := testTime
	s.Now = func() time.Time { return now }

	ok, err := s.TryLock(ctx, "rollup", "tok-a", 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	ok, err = s.TryLock(ctx, "rollup", "tok-b", 5*time.Minute)
	if err != nil || ok {
		t.Fatalf("second TryLock should be refused, got %v, %v", ok, err)
	}

	// Unlock with the wrong token is a no-op.
	if err := s.Unlock(ctx, "rollup", "tok-b"); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.TryLock(ctx, "rollup", "tok-c", 5*time.Minute)
	if ok {
		t.Error("wrong-token unlock released the lock")
	}

	if err := s.Unlock(ctx, "rollup", "tok-a"); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.TryLock(ctx, "rollup", "tok-c", 5*time.Minute)
	if !ok {
		t.Error("lock not released by holder")
	}

	// An expired lock is free again.
	now = now.Add(6 * time.Minute)
	ok, _ = s.TryLock(ctx, "rollup", "tok-d", 5*time.Minute)
	if !ok {
		t.Error("expired lock not reacquirable")
	}
}

func TestMemoryDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IncrementAdd(ctx, "java", "spring", testTime, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementView(ctx, "java", "spring", testTime, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}
	yesterday := testTime.AddDate(0, 0, -1)
	if err := s.IncrementAdd(ctx, "go", "nats", yesterday, dayTTL, rtTTL); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteByPattern(ctx, timekey.DailyAddPattern(testTime), 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d keys, want 1", n)
	}

	adds, _ := s.ScanDailyAdd(ctx, testTime, 100)
	if len(adds) != 0 {
		t.Errorf("daily adds survived delete: %v", adds)
	}
	views, _ := s.ScanDailyView(ctx, testTime, 100)
	if views["java"]["spring"] != 1 {
		t.Errorf("views should be untouched: %v", views)
	}
	old, _ := s.ScanDailyAdd(ctx, yesterday, 100)
	if old["go"]["nats"] != 1 {
		t.Errorf("other day should be untouched: %v", old)
	}
}

func TestMatchPattern(t *testing.T) {
	for _, tc := range []struct {
		pattern, key string
		want         bool
	}{
		{"h:addkw:20260831:*", "h:addkw:20260831:java", true},
		{"h:addkw:20260831:*", "h:addkw:20260830:java", false},
		{"h:addkw:20260831:*", "h:viewkw:20260831:java", false},
		{"h:addkw:rt:202608311542:*", "h:addkw:rt:202608311542:go", true},
		{"exact", "exact", true},
		{"exact", "exactx", false},
	} {
		if got := matchPattern(tc.pattern, tc.key); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
