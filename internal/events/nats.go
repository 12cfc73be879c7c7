package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mindloop/trendd/internal/model"
)

// connect dials NATS with automatic reconnection and returns a JetStream
// context.
func connect(url string, opts ...nats.Option) (*nats.Conn, nats.JetStreamContext, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates the relation event stream if it does not exist yet.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", StreamName, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectWildcard},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}
	return nil
}

// NATSPublisher publishes relation events to the JetStream stream, sharding
// subjects by parent keyword.
type NATSPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, js, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{conn: nc, js: js}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event *model.RelationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := p.js.Publish(Subject(event.ParentKeyword), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// JetStreamSource pulls relation event batches from a durable consumer.
// AckAll acknowledgement means acking the last message of a batch commits
// every message before it, so a batch is either fully applied and committed
// or redelivered whole.
type JetStreamSource struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

func NewJetStreamSource(url, durable string, opts ...nats.Option) (*JetStreamSource, error) {
	nc, js, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	sub, err := js.PullSubscribe(SubjectWildcard, durable,
		nats.BindStream(StreamName),
		nats.AckAll(),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("pull subscribe %s: %w", SubjectWildcard, err)
	}
	return &JetStreamSource{conn: nc, sub: sub}, nil
}

func (s *JetStreamSource) Fetch(ctx context.Context, max int, wait time.Duration) (*Batch, error) {
	msgs, err := s.sub.Fetch(max, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return &Batch{}, nil
		}
		return nil, fmt.Errorf("fetching batch: %w", err)
	}
	if len(msgs) == 0 {
		return &Batch{}, nil
	}
	batch := &Batch{Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		batch.Messages = append(batch.Messages, Message{Data: m.Data})
	}
	last := msgs[len(msgs)-1]
	batch.Ack = func() error { return last.Ack() }
	return batch, nil
}

func (s *JetStreamSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.conn.Close()
		return fmt.Errorf("unsubscribing: %w", err)
	}
	s.conn.Close()
	return nil
}
