// Package reaper periodically reconciles held seats whose lock lapsed
// without a confirm back to available.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

type lapsedReclaimer interface {
	ReapLapsed(ctx context.Context, limit int) (int, error)
}

type Reaper struct {
	svc      lapsedReclaimer
	interval time.Duration
	batch    int
	log      *slog.Logger
}

func New(svc lapsedReclaimer, interval time.Duration, batch int, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	if batch <= 0 {
		batch = 500
	}
	return &Reaper{svc: svc, interval: interval, batch: batch, log: log}
}

// Start runs until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", r.interval, "batch", r.batch)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick drains lapsed holds one batch at a time; a full batch means more
// may be waiting.
func (r *Reaper) tick(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n, err := r.svc.ReapLapsed(ctx, r.batch)
		if err != nil {
			r.log.Error("reap lapsed holds failed", "error", err)
			return
		}
		total += n
		if n < r.batch {
			break
		}
	}
	if total > 0 {
		r.log.Info("lapsed holds reclaimed", "count", total)
	}
}
