package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mindloop/trendd/internal/metrics"
	"github.com/mindloop/trendd/internal/model"
)

// Buffer absorbs bursts of relation events and flushes them to the bus in
// micro-batches. Offer never blocks the caller: when the buffer is full the
// newest event is dropped and counted, which trades completeness for
// request latency on the ingest edge.
type Buffer struct {
	pub      Publisher
	queue    chan *model.RelationEvent
	interval time.Duration
	maxBatch int
	logger   *slog.Logger

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBuffer starts the flush loop. capacity bounds the pending queue,
// interval is the flush period, maxBatch caps one flush.
func NewBuffer(pub Publisher, capacity int, interval time.Duration, maxBatch int, logger *slog.Logger) *Buffer {
	b := &Buffer{
		pub:      pub,
		queue:    make(chan *model.RelationEvent, capacity),
		interval: interval,
		maxBatch: maxBatch,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Offer enqueues an event for publication. It reports false when the event
// was dropped because the buffer is full.
func (b *Buffer) Offer(event *model.RelationEvent) bool {
	select {
	case b.queue <- event:
		metrics.EventsBuffered.Inc()
		// Wake the loop early once a full batch is waiting.
		if len(b.queue) >= b.maxBatch {
			select {
			case b.kick <- struct{}{}:
			default:
			}
		}
		return true
	default:
		metrics.EventsDropped.Inc()
		b.logger.Warn("event buffer full, dropping event",
			"parent", event.ParentKeyword, "type", string(event.Type))
		return false
	}
}

// Len reports the number of pending events.
func (b *Buffer) Len() int {
	return len(b.queue)
}

func (b *Buffer) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.flush(b.drainPending())
		case <-b.kick:
			b.flush(b.drainPending())
		}
	}
}

// drainPending takes up to maxBatch events off the queue without blocking.
func (b *Buffer) drainPending() []*model.RelationEvent {
	var batch []*model.RelationEvent
	for len(batch) < b.maxBatch {
		select {
		case ev := <-b.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (b *Buffer) flush(batch []*model.RelationEvent) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	for _, ev := range batch {
		if err := b.pub.Publish(ctx, ev); err != nil {
			metrics.EventFailures.Inc()
			b.logger.Error("publishing event", "parent", ev.ParentKeyword, "error", err)
			continue
		}
		metrics.EventsPublished.Inc()
	}
}

// Close stops the flush loop and synchronously drains whatever is still
// pending, so accepted events survive a clean shutdown.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		for {
			batch := b.drainPending()
			if len(batch) == 0 {
				return
			}
			b.flush(batch)
		}
	})
}
