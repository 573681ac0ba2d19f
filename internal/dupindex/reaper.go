package dupindex

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically releases pending reservations that outlived the
// configured max age, so a worker that crashed between reserve and anchor
// cannot block a commitment key forever.
type Reaper struct {
	index    Index
	logger   *slog.Logger
	maxAge   time.Duration
	interval time.Duration
}

func NewReaper(index Index, logger *slog.Logger, maxAge, interval time.Duration) *Reaper {
	return &Reaper{
		index:    index,
		logger:   logger,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Run blocks until ctx is done, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	released, err := r.index.ReleaseStale(ctx, r.maxAge)
	if err != nil {
		r.logger.ErrorContext(ctx, "reservation sweep failed", "error", err)
		return
	}
	if released > 0 {
		r.logger.InfoContext(ctx, "released stale reservations",
			"count", released,
			"max_age", r.maxAge.String(),
		)
	}
}
