// Package events carries relation events over the message bus: subject
// layout, the JetStream publisher and batch source, and the in-process
// publish buffer.
package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/mindloop/trendd/internal/model"
)

const (
	// StreamName is the JetStream stream holding every relation event.
	StreamName = "TREND"

	// SubjectPrefix roots the relation event subjects.
	SubjectPrefix = "trend.relation"

	// SubjectWildcard matches every relation event subject.
	SubjectWildcard = "trend.relation.>"

	// NumPartitions shards events across subjects by parent keyword, so
	// all events of one parent land on one subject and stay ordered.
	NumPartitions = 16
)

// Subject returns the sharded subject for a parent keyword.
func Subject(parent string) string {
	h := fnv.New32a()
	h.Write([]byte(parent))
	return fmt.Sprintf("%s.%d", SubjectPrefix, h.Sum32()%NumPartitions)
}

// Publisher emits relation events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event *model.RelationEvent) error
	Close() error
}

// Message is one raw event payload pulled from the bus.
type Message struct {
	Data []byte
}

// Batch is a group of messages acknowledged as a unit: Ack commits the
// whole batch after it has been applied.
type Batch struct {
	Messages []Message
	Ack      func() error
}

// Source delivers event batches to the ingest workers.
type Source interface {
	// Fetch returns up to max messages, waiting at most wait. An empty
	// batch (not an error) means nothing arrived in time.
	Fetch(ctx context.Context, max int, wait time.Duration) (*Batch, error)
	Close() error
}
