// Package kafka publishes audit events to a Kafka topic so downstream
// compliance and monitoring consumers get the trail without querying the
// engine's own store.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "unum/pkg/platform/audit"
)

const defaultTopic = "unum.audit.events"

// Sink publishes audit events to Kafka. Events are keyed by DID so all
// events for one identity land on the same partition, in order.
type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithTopic overrides the default topic.
func WithTopic(topic string) Option {
	return func(s *Sink) { s.topic = topic }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// New connects to the given brokers. Callers own the returned sink's
// lifecycle and must call Close on shutdown.
func New(brokers []string, opts ...Option) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to kafka: %w", err)
	}

	s := &Sink{
		client: client,
		topic:  defaultTopic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// wireEvent is the published shape. Kept separate from audit.Event so the
// topic schema does not drift when internal fields change.
type wireEvent struct {
	Category              string `json:"category"`
	Timestamp             string `json:"timestamp"`
	DID                   string `json:"did,omitempty"`
	Action                string `json:"action"`
	CommitmentFingerprint string `json:"commitmentFingerprint,omitempty"`
	ActorID               string `json:"actorId,omitempty"`
	Reason                string `json:"reason,omitempty"`
	RequestID             string `json:"requestId,omitempty"`
}

// Publish produces the event asynchronously. Delivery failures are logged;
// the audit publisher treats sink errors as non-fatal either way, and the
// in-process store remains the durable copy.
func (s *Sink) Publish(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(wireEvent{
		Category:              string(event.Category),
		Timestamp:             event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DID:                   event.DID.String(),
		Action:                event.Action,
		CommitmentFingerprint: event.CommitmentFingerprint,
		ActorID:               event.ActorID,
		Reason:                event.Reason,
		RequestID:             event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.DID.String()),
		Value: payload,
	}
	s.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			s.logger.Error("audit event delivery failed",
				"topic", r.Topic,
				"action", event.Action,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes buffered records and releases the client.
func (s *Sink) Close() {
	if err := s.client.Flush(context.Background()); err != nil {
		s.logger.Warn("kafka flush on close failed", "error", err)
	}
	s.client.Close()
}
