package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// JobReaper is the slice of the job tracker the reaper needs
type JobReaper interface {
	Reap(ctx context.Context, staleAfter time.Duration) (int, error)
}

// ReaperWorker fails jobs whose worker stopped sending heartbeats
type ReaperWorker struct {
	jobs       JobReaper
	staleAfter time.Duration
	triggerCh  chan struct{}
	reaped     func(n int)
}

func NewReaperWorker(jobs JobReaper, staleAfter time.Duration) *ReaperWorker {
	return &ReaperWorker{
		jobs:       jobs,
		staleAfter: staleAfter,
		triggerCh:  make(chan struct{}, 1),
		reaped:     func(int) {},
	}
}

// Trigger causes the worker to run immediately
func (w *ReaperWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run sweeps once at start, then on every tick or trigger until ctx ends
func (w *ReaperWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reaper worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.triggerCh:
			zap.L().Info("reaper worker triggered manually")
			w.sweep(ctx)
		}
	}
}

func (w *ReaperWorker) sweep(ctx context.Context) {
	n, err := w.jobs.Reap(ctx, w.staleAfter)
	if err != nil {
		zap.L().Error("reap stale jobs failed", zap.Error(err))
		return
	}
	w.reaped(n)
}
