package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/internal/metrics"
	"eventvax.app/relay/internal/store"
)

type ReclaimerConfig struct {
	Interval  time.Duration
	MinIdle   time.Duration
	BatchSize int32
}

// Reclaimer periodically resolves requests stuck in processing. This handles
// the crash recovery scenario where the relayer dies after submitting an award
// but before recording its outcome. It shares the relayer guard so it never
// runs alongside a tick.
type Reclaimer struct {
	requests  store.IssuanceRequestStore
	processor RequestProcessor
	relayer   *Worker
	cfg       ReclaimerConfig
	now       func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(requests store.IssuanceRequestStore, processor RequestProcessor, relayer *Worker, cfg ReclaimerConfig) *Reclaimer {
	return &Reclaimer{
		requests:  requests,
		processor: processor,
		relayer:   relayer,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.ReclaimOnce(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

// Stop signals the reclaimer to stop gracefully. Call it only after Run has
// started.
func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// ReclaimOnce performs one reclaim cycle under the relayer guard.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) error {
	return r.relayer.TryExclusive(ctx, r.reclaim)
}

func (r *Reclaimer) reclaim(ctx context.Context) error {
	stale, err := r.requests.ListStaleProcessing(ctx, r.now().Add(-r.cfg.MinIdle), r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing stale requests: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found stale processing requests", "count", len(stale))

	for i := range stale {
		req := &stale[i]
		reqCtx := r.relayer.requestContext(ctx, req)

		slog.InfoContext(reqCtx, "reclaiming stale request",
			"idle_since", req.UpdatedAt,
			"retry_count", req.RetryCount)

		if err := r.processor.Reconcile(reqCtx, req); err != nil {
			metrics.RelayerReclaimed.WithLabelValues(metrics.ReclaimDeferred).Inc()
			slog.ErrorContext(reqCtx, "failed to reclaim request", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Continue with other requests
			continue
		}
		metrics.RelayerReclaimed.WithLabelValues(metrics.ReclaimResolved).Inc()
	}

	return nil
}
