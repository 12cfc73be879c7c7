package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/events"
	"github.com/mindloop/trendd/internal/model"
)

// fakeSource serves a fixed sequence of batches, then empty batches.
type fakeSource struct {
	mu      sync.Mutex
	batches []*events.Batch
	acks    atomic.Int32
}

func (s *fakeSource) Fetch(ctx context.Context, max int, wait time.Duration) (*events.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		return &events.Batch{}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeSource) Close() error { return nil }

func mustJSON(t *testing.T, ev model.RelationEvent) events.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return events.Message{Data: data}
}

func testConsumer(src events.Source, cs counter.Store) *Consumer {
	return NewConsumer(src, cs, Config{
		Workers:     1,
		MaxBatch:    10,
		FetchWait:   10 * time.Millisecond,
		DailyTTL:    192 * time.Hour,
		RealtimeTTL: 2 * time.Hour,
	}, slog.New(slog.DiscardHandler))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumerAppliesBatch(t *testing.T) {
	ts := time.Date(2026, 8, 31, 15, 42, 0, 0, time.UTC)
	src := &fakeSource{}
	batch := &events.Batch{
		Messages: []events.Message{
			mustJSON(t, model.RelationEvent{Type: model.EventRelationAdd, Timestamp: ts.UnixMilli(), ParentKeyword: "Java", ChildKeyword: " Spring "}),
			mustJSON(t, model.RelationEvent{Type: model.EventRelationAdd, Timestamp: ts.UnixMilli(), ParentKeyword: "java", ChildKeyword: "spring"}),
			mustJSON(t, model.RelationEvent{Type: model.EventRelationView, Timestamp: ts.UnixMilli(), ParentKeyword: "java", ChildKeyword: "jpa"}),
		},
		Ack: func() error { src.acks.Add(1); return nil },
	}
	src.batches = []*events.Batch{batch}

	cs := counter.NewMemoryStore()
	c := testConsumer(src, cs)
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return src.acks.Load() == 1 })

	adds, err := cs.ScanDailyAdd(context.Background(), ts, 100)
	if err != nil {
		t.Fatal(err)
	}
	// Keywords are normalized, so the two add events share a counter.
	if adds["java"]["spring"] != 2 {
		t.Errorf("java/spring adds = %d, want 2", adds["java"]["spring"])
	}
	views, err := cs.ScanDailyView(context.Background(), ts, 100)
	if err != nil {
		t.Fatal(err)
	}
	if views["java"]["jpa"] != 1 {
		t.Errorf("java/jpa views = %d, want 1", views["java"]["jpa"])
	}
}

func TestConsumerSkipsBadEventsAndStillAcks(t *testing.T) {
	ts := time.Date(2026, 8, 31, 15, 42, 0, 0, time.UTC)
	src := &fakeSource{}
	batch := &events.Batch{
		Messages: []events.Message{
			{Data: []byte("not json")},
			mustJSON(t, model.RelationEvent{Type: model.EventRelationAdd, Timestamp: ts.UnixMilli(), ParentKeyword: "", ChildKeyword: "spring"}),
			mustJSON(t, model.RelationEvent{Type: "RELATION_BOGUS", Timestamp: ts.UnixMilli(), ParentKeyword: "java", ChildKeyword: "spring"}),
			mustJSON(t, model.RelationEvent{Type: model.EventRelationAdd, Timestamp: ts.UnixMilli(), ParentKeyword: "java", ChildKeyword: "spring"}),
		},
		Ack: func() error { src.acks.Add(1); return nil },
	}
	src.batches = []*events.Batch{batch}

	cs := counter.NewMemoryStore()
	c := testConsumer(src, cs)
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return src.acks.Load() == 1 })

	adds, err := cs.ScanDailyAdd(context.Background(), ts, 100)
	if err != nil {
		t.Fatal(err)
	}
	if adds["java"]["spring"] != 1 {
		t.Errorf("only the valid event should count, got %v", adds)
	}
}

func TestConsumerAcksOncePerBatch(t *testing.T) {
	ts := time.Date(2026, 8, 31, 15, 42, 0, 0, time.UTC)
	src := &fakeSource{}
	for i := 0; i < 3; i++ {
		src.batches = append(src.batches, &events.Batch{
			Messages: []events.Message{
				mustJSON(t, model.RelationEvent{Type: model.EventRelationAdd, Timestamp: ts.UnixMilli(), ParentKeyword: "java", ChildKeyword: "spring"}),
			},
			Ack: func() error { src.acks.Add(1); return nil },
		})
	}

	cs := counter.NewMemoryStore()
	c := testConsumer(src, cs)
	c.Start(context.Background())

	waitFor(t, func() bool { return src.acks.Load() == 3 })
	c.Stop()

	if got := src.acks.Load(); got != 3 {
		t.Errorf("acks = %d, want 3", got)
	}
}
