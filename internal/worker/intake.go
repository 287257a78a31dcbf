package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/service"
)

type IntakeConfig struct {
	MaxAttempts int
}

// IntakeWorker turns check-in messages from the intake stream into issuance
// requests. It only creates records; the relayer does the rest.
type IntakeWorker struct {
	consumer Consumer
	intake   Intake
	cfg      IntakeConfig

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewIntakeWorker(consumer Consumer, intake Intake, cfg IntakeConfig) *IntakeWorker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &IntakeWorker{
		consumer:  consumer,
		intake:    intake,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *IntakeWorker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker.intake",
	})

	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "intake worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "intake worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				if err := sleepContext(ctx, time.Second); err != nil {
					return err
				}
			}
		}
	}
}

// Stop ends the read loop. Call it only after Run has started.
func (w *IntakeWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *IntakeWorker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		msgCtx := messageContext(ctx, msg)
		if err := w.processMessageSafe(msgCtx, msg); err != nil {
			slog.ErrorContext(msgCtx, "message processing failed",
				"error", err,
				"attempt", msg.Attempt)
			w.handleFailedMessage(msgCtx, msg, err)
		}
	}

	return nil
}

func (w *IntakeWorker) processMessageSafe(ctx context.Context, msg queue.IntakeMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage submits the request carried by msg and acknowledges it.
// Exported so it can be reused by the stream reclaimer.
func (w *IntakeWorker) ProcessMessage(ctx context.Context, msg queue.IntakeMessage) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "intake.process_message")
	defer sc.End()
	ctx = sc.Context()

	result, err := w.intake.Request(ctx, service.IssuanceRequestParams{
		EventID:       msg.EventID,
		WalletAddress: msg.WalletAddress,
		Source:        msg.Source,
	})
	if err != nil {
		sc.RecordError(err)
		return err
	}

	slog.InfoContext(ctx, "intake message accepted",
		"request_id", result.Request.ID,
		"created", result.Created,
		"status", result.Request.Status)

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - submission is idempotent so redelivery is safe
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	return nil
}

func (w *IntakeWorker) handleFailedMessage(ctx context.Context, msg queue.IntakeMessage, err error) {
	if isPermanent(err) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "message cannot be processed, sending to DLQ",
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, service.ErrInvalidWallet) || errors.Is(err, service.ErrInvalidEventID)
}

func messageContext(ctx context.Context, msg queue.IntakeMessage) context.Context {
	msgID := msg.ID
	eventID := msg.EventID
	wallet := msg.WalletAddress
	return logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
		EventID:   &eventID,
		Wallet:    &wallet,
	})
}
