package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper closes attempts that ran past their deadline or went idle.
type Reaper interface {
	ReapStale(ctx context.Context, idleGrace time.Duration, limit int) (int, error)
}

// ReaperWorker periodically finalizes stale attempts so abandoned sessions
// still end up graded and published.
type ReaperWorker struct {
	reaper    Reaper
	interval  time.Duration
	idleGrace time.Duration
	batchSize int
	log       zerolog.Logger
}

// NewReaperWorker creates a new ReaperWorker.
func NewReaperWorker(reaper Reaper, interval, idleGrace time.Duration, batchSize int, log zerolog.Logger) *ReaperWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReaperWorker{
		reaper:    reaper,
		interval:  interval,
		idleGrace: idleGrace,
		batchSize: batchSize,
		log:       log.With().Str("component", "reaper_worker").Logger(),
	}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ReaperWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("idle_grace", w.idleGrace).
		Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// sweep keeps reaping while full batches come back, so a backlog clears
// within one tick.
func (w *ReaperWorker) sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.reaper.ReapStale(ctx, w.idleGrace, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Reap failed")
			}
			break
		}
		total += n
		if n < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("reaped", total).Msg("Finalized stale attempts")
	}
	return total
}
