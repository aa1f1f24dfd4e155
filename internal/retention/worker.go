package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// PurgeCompletedArgs is the periodic purge job. It carries no payload; the
// cutoff is computed from the configured TTL at run time.
type PurgeCompletedArgs struct{}

func (PurgeCompletedArgs) Kind() string { return "purge_completed_handoffs" }

// RequestPurger is the repository surface the worker needs.
type RequestPurger interface {
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeWorker deletes completed handoff requests older than the TTL.
// Messages go with them through the store's cascade, which is the request
// ownership rule: messages live and die with their request.
type PurgeWorker struct {
	river.WorkerDefaults[PurgeCompletedArgs]
	requests RequestPurger
	ttl      time.Duration
	log      *slog.Logger
}

func NewPurgeWorker(requests RequestPurger, ttl time.Duration, log *slog.Logger) *PurgeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeWorker{requests: requests, ttl: ttl, log: log}
}

func (w *PurgeWorker) Work(ctx context.Context, job *river.Job[PurgeCompletedArgs]) error {
	if w.ttl <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-w.ttl)
	purged, err := w.requests.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge completed requests: %w", err)
	}
	if purged > 0 {
		w.log.Info("purged completed handoff requests", "count", purged, "cutoff", cutoff)
	}
	return nil
}
