package task

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically removes finished tasks older than the retention period.
type Reaper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewReaper(store Store, retention, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep deletes every finished task whose end time is older than now minus retention.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		r.logger.Info("removed expired tasks", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done. Sweep errors are logged and the loop continues.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("task reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("failed to sweep expired tasks", "error", err)
			}
		}
	}
}
