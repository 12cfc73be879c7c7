// Package ingest drains relation event batches from the bus and applies
// them to the counter store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/events"
	"github.com/mindloop/trendd/internal/metrics"
	"github.com/mindloop/trendd/internal/model"
)

// Config tunes a Consumer.
type Config struct {
	Workers     int
	MaxBatch    int
	FetchWait   time.Duration
	DailyTTL    time.Duration
	RealtimeTTL time.Duration
}

// Consumer runs a pool of workers that each fetch, apply, and acknowledge
// event batches. A batch is acknowledged only after every event in it has
// been attempted; per-event failures are logged and counted, not fatal, so
// one malformed event cannot wedge the stream.
type Consumer struct {
	source  events.Source
	counter counter.Store
	cfg     Config
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(source events.Source, cs counter.Store, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}
	return &Consumer{source: source, counter: cs, cfg: cfg, logger: logger}
}

// Start launches the worker pool.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run(ctx)
		}()
	}
}

// Stop halts the workers and waits for in-flight batches to finish.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch, err := c.source.Fetch(ctx, c.cfg.MaxBatch, c.cfg.FetchWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetching event batch", "error", err)
			continue
		}
		if len(batch.Messages) == 0 {
			continue
		}
		c.applyBatch(ctx, batch)
		if batch.Ack != nil {
			if err := batch.Ack(); err != nil {
				c.logger.Error("acking event batch", "error", err)
			}
		}
	}
}

func (c *Consumer) applyBatch(ctx context.Context, batch *events.Batch) {
	for _, msg := range batch.Messages {
		if err := c.applyOne(ctx, msg.Data); err != nil {
			metrics.EventFailures.Inc()
			c.logger.Error("applying event", "error", err)
			continue
		}
		metrics.EventsConsumed.Inc()
	}
}

func (c *Consumer) applyOne(ctx context.Context, data []byte) error {
	var ev model.RelationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	parent := model.Normalize(ev.ParentKeyword)
	child := model.Normalize(ev.ChildKeyword)
	if parent == "" || child == "" {
		return fmt.Errorf("event has blank keyword: parent=%q child=%q", ev.ParentKeyword, ev.ChildKeyword)
	}
	ts := time.Now()
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}
	switch ev.Type {
	case model.EventRelationAdd:
		if err := c.counter.IncrementAdd(ctx, parent, child, ts, c.cfg.DailyTTL, c.cfg.RealtimeTTL); err != nil {
			return fmt.Errorf("incrementing add counter: %w", err)
		}
	case model.EventRelationView:
		if err := c.counter.IncrementView(ctx, parent, child, ts, c.cfg.DailyTTL, c.cfg.RealtimeTTL); err != nil {
			return fmt.Errorf("incrementing view counter: %w", err)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
