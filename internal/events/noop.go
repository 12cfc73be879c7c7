package events

import (
	"context"

	"github.com/mindloop/trendd/internal/model"
)

// NoopPublisher is a Publisher that does nothing (used when NATS is not
// configured; counters are then fed only by this process's own ingest).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, event *model.RelationEvent) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
