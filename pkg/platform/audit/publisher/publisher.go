// Package publisher emits audit events to a store, optionally through an
// async buffer so the enrollment path never blocks on audit persistence.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	audit "unum/pkg/platform/audit"
	"unum/pkg/requestcontext"
)

// Sink receives a copy of every event after it is stored. Used for the
// Kafka fan-out; failures are logged, never propagated to the caller.
type Sink interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Publisher stamps, stores and fans out audit events.
type Publisher struct {
	store  audit.Store
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	inbox  chan audit.Event
	wg     sync.WaitGroup
	closed chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches Emit to buffered async mode with the given
// channel capacity. When the buffer is full the event is dropped with a
// log line rather than blocking enrollment.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) { p.inbox = make(chan audit.Event, size) }
}

// WithSink adds a fan-out destination.
func WithSink(s Sink) Option {
	return func(p *Publisher) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. Missing timestamp, category and request ID are
// filled in here so call sites stay terse.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.Action(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if p.inbox == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.closed:
		p.logger.Warn("audit publisher closed, dropping event",
			"action", event.Action,
			"did", event.DID.String(),
		)
		return nil
	default:
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", event.Action,
			"did", event.DID.String(),
		)
		return nil
	}
}

// List exposes the store for callers that already hold the publisher.
func (p *Publisher) List(ctx context.Context, did string) ([]audit.Event, error) {
	return p.store.ListByDID(ctx, did)
}

// Close drains the async buffer and stops the worker.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return
	default:
	}
	close(p.closed)
	close(p.inbox)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		if err := p.persist(context.Background(), event); err != nil {
			p.logger.Error("audit append failed", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.Error("audit sink publish failed", "action", event.Action, "error", err)
		}
	}
	return nil
}
