// Package anchor hands finished metadata documents to the external
// transaction-submission collaborator and reconciles the outcome with the
// duplicate index: confirmed submissions commit the reservation, exhausted
// ones release it. A reservation never outlives the anchoring attempt.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"unum/internal/dupindex"
	"unum/internal/metadata"
	"unum/pkg/platform/circuit"
	"unum/pkg/platform/sentinel"
)

// Transient submission failures. Anything else from the submitter is
// treated as permanent and not retried.
var (
	ErrSubmissionTimeout  = errors.New("ledger submission timed out")
	ErrSubmissionRejected = errors.New("ledger submission rejected")
)

// Confirmation is the collaborator's acknowledgment of a durable anchor.
type Confirmation struct {
	TxID       string
	AnchoredAt time.Time
}

// Submitter is the external transaction-submission collaborator.
type Submitter interface {
	Submit(ctx context.Context, doc metadata.Document) (Confirmation, error)
}

// Gateway drives submission with bounded retries and a circuit breaker.
type Gateway struct {
	submitter   Submitter
	index       dupindex.Index
	logger      *slog.Logger
	breaker     *circuit.Breaker
	maxAttempts int
	baseBackoff time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxAttempts bounds the retry budget (attempts, not retries).
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) { g.maxAttempts = n }
}

// WithBaseBackoff sets the first retry delay; later delays double.
func WithBaseBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.baseBackoff = d }
}

// WithBreaker substitutes the circuit breaker guarding the submitter.
func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

func New(submitter Submitter, index dupindex.Index, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		submitter:   submitter,
		index:       index,
		logger:      logger,
		breaker:     circuit.New("anchor-submitter"),
		maxAttempts: 3,
		baseBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Anchor submits doc and settles the reservation. On success the
// reservation is committed; on retry exhaustion, permanent rejection or
// cancellation it is released so the commitment key frees up for retry.
func (g *Gateway) Anchor(ctx context.Context, doc metadata.Document, res dupindex.Reservation) (Confirmation, error) {
	ctx, span := otel.Tracer("unum/anchor").Start(ctx, "anchor.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("did", doc.DID.String()),
		attribute.Int("sequence", doc.Sequence),
	)

	conf, err := g.submitWithRetry(ctx, doc)
	if err != nil {
		g.release(ctx, res)
		return Confirmation{}, err
	}

	if err := g.index.Commit(ctx, res.Token); err != nil {
		// The document is anchored but the index won't finalize: surface
		// loudly, do not release (the key must stay claimed by this DID).
		g.logger.ErrorContext(ctx, "anchored document but commit failed",
			"did", doc.DID.String(),
			"token", res.Token.String(),
			"error", err,
		)
		return Confirmation{}, fmt.Errorf("finalize reservation after anchor: %w", err)
	}

	g.logger.InfoContext(ctx, "metadata document anchored",
		"did", doc.DID.String(),
		"tx_id", conf.TxID,
		"sequence", doc.Sequence,
	)
	return conf, nil
}

// Submit anchors a successor document (rotation, revocation) that has no
// reservation attached.
func (g *Gateway) Submit(ctx context.Context, doc metadata.Document) (Confirmation, error) {
	return g.submitWithRetry(ctx, doc)
}

func (g *Gateway) submitWithRetry(ctx context.Context, doc metadata.Document) (Confirmation, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Confirmation{}, err
		}
		if err := g.breaker.Allow(); err != nil {
			return Confirmation{}, fmt.Errorf("submitter unavailable: %w: %w", sentinel.ErrUnavailable, err)
		}

		conf, err := g.submitter.Submit(ctx, doc)
		if err == nil {
			g.breaker.RecordSuccess()
			return conf, nil
		}

		g.breaker.RecordFailure()
		if !retryable(err) {
			return Confirmation{}, err
		}
		lastErr = err

		g.logger.WarnContext(ctx, "ledger submission failed, retrying",
			"did", doc.DID.String(),
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", err,
		)
		if attempt < g.maxAttempts {
			if err := sleep(ctx, g.backoff(attempt)); err != nil {
				return Confirmation{}, err
			}
		}
	}
	return Confirmation{}, fmt.Errorf("retry budget exhausted after %d attempts: %w", g.maxAttempts, lastErr)
}

func (g *Gateway) release(ctx context.Context, res dupindex.Reservation) {
	if res.Token.IsNil() {
		return
	}
	// Release must happen even when the caller's context is already done.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := g.index.Release(releaseCtx, res.Token); err != nil {
		g.logger.ErrorContext(releaseCtx, "failed to release reservation",
			"token", res.Token.String(),
			"error", err,
		)
	}
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func retryable(err error) bool {
	return errors.Is(err, ErrSubmissionTimeout) || errors.Is(err, ErrSubmissionRejected)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
