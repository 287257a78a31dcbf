package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/internal/metrics"
	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/store"
)

// ErrTickInProgress is returned when a tick starts while another one still
// holds the relayer.
var ErrTickInProgress = errors.New("relayer tick already in progress")

type Config struct {
	Interval     time.Duration
	RequestDelay time.Duration
	BatchSize    int32
	MaxRetries   int32
}

// Worker is the relayer loop. Every interval it picks up to BatchSize
// eligible requests and processes them one at a time.
type Worker struct {
	requests  store.IssuanceRequestStore
	processor RequestProcessor
	cfg       Config

	guard    sync.Mutex
	inflight sync.WaitGroup

	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(requests store.IssuanceRequestStore, processor RequestProcessor, cfg Config) *Worker {
	return &Worker{
		requests:  requests,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run ticks once immediately and then on every interval until ctx is done or
// Stop is called. Ticks run on their own goroutine so a slow batch never delays
// the schedule; a tick that fires while another is running is skipped.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker.relayer",
	})

	w.started.Store(true)
	defer close(w.stoppedCh)
	defer w.inflight.Wait()

	select {
	case <-w.stopCh:
		return nil
	default:
	}

	slog.InfoContext(ctx, "relayer started",
		"interval", w.cfg.Interval,
		"batch_size", w.cfg.BatchSize,
		"max_retries", w.cfg.MaxRetries,
		"request_delay", w.cfg.RequestDelay)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.spawnTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "relayer stopping")
			return nil
		case <-ticker.C:
			w.spawnTick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the running tick to finish.
// It returns at once when Run was never started.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if !w.started.Load() {
		return
	}
	<-w.stoppedCh
}

func (w *Worker) spawnTick(ctx context.Context) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.Tick(ctx); err != nil {
			switch {
			case errors.Is(err, ErrTickInProgress):
				slog.DebugContext(ctx, "previous tick still running, skipping")
			case ctx.Err() != nil:
			default:
				slog.ErrorContext(ctx, "relayer tick failed", "error", err)
			}
		}
	}()
}

// Tick runs one batch. It returns ErrTickInProgress without touching anything
// when another tick or a reclaim cycle holds the relayer.
func (w *Worker) Tick(ctx context.Context) error {
	err := w.TryExclusive(ctx, w.runBatch)
	if errors.Is(err, ErrTickInProgress) {
		metrics.RelayerTicksSkipped.Inc()
	}
	return err
}

// TryExclusive runs fn while holding the relayer guard, so no two batches or
// reclaim cycles ever overlap.
func (w *Worker) TryExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if !w.guard.TryLock() {
		return ErrTickInProgress
	}
	defer w.guard.Unlock()
	return fn(ctx)
}

func (w *Worker) runBatch(ctx context.Context) error {
	sc := logger.StartSpan(ctx, "relayer.tick")
	defer sc.End()
	ctx = sc.Context()

	start := time.Now()
	metrics.RelayerTicksTotal.Inc()
	defer func() {
		metrics.RelayerTickDuration.Observe(time.Since(start).Seconds())
	}()

	batch, err := w.requests.ListEligible(ctx, w.cfg.BatchSize, w.cfg.MaxRetries)
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("listing eligible requests: %w", err)
	}

	if len(batch) > 0 {
		slog.InfoContext(ctx, "processing batch", "count", len(batch))
	}

	for i := range batch {
		req := &batch[i]
		if err := w.processSafe(ctx, req); err != nil {
			slog.ErrorContext(w.requestContext(ctx, req), "request processing failed", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		if err := sleepContext(ctx, w.cfg.RequestDelay); err != nil {
			return err
		}
	}

	w.refreshCounts(ctx)
	return nil
}

func (w *Worker) processSafe(ctx context.Context, req *model.IssuanceRequest) (err error) {
	ctx = w.requestContext(ctx, req)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in request processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
			w.recordPanic(ctx, req, err)
		}
	}()
	return w.processor.Process(ctx, req)
}

// recordPanic charges a retry for an attempt that blew up, so a request that
// panics every time still reaches failed.
func (w *Worker) recordPanic(ctx context.Context, req *model.IssuanceRequest, cause error) {
	outcome := req.FailedAttempt(cause, w.cfg.MaxRetries)
	if _, err := w.requests.ApplyOutcome(ctx, req.ID, outcome); err != nil {
		slog.ErrorContext(ctx, "failed to record panicked attempt", "error", err)
		return
	}
	metrics.RelayerOutcomes.WithLabelValues(string(outcome.Status)).Inc()
}

func (w *Worker) requestContext(ctx context.Context, req *model.IssuanceRequest) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		RequestID: &req.ID,
		EventID:   &req.EventID,
		Wallet:    &req.WalletAddress,
	})
}

func (w *Worker) refreshCounts(ctx context.Context) {
	counts, err := w.requests.CountByStatus(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to refresh request counts", "error", err)
		return
	}
	metrics.SetRequestCounts(counts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
