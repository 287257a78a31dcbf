package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/core/config"
	"eventvax.app/relay/internal/chain"
	"eventvax.app/relay/internal/metrics"
	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/store"
)

// Outcome writes outlive a cancelled tick: once a transaction is on the wire
// its hash must reach the store.
const outcomeWriteTimeout = 10 * time.Second

var errMissingTxHash = errors.New("processing request has no transaction hash")

type ProcessorConfig struct {
	Chain      chain.Client
	Requests   store.IssuanceRequestStore
	Publisher  queue.StatusPublisher
	Hasher     chain.MetadataHasher
	MaxRetries int32
	Logger     *slog.Logger
}

// Processor runs issuance attempts: claim check, award, confirmation, and one
// outcome write per state change.
type Processor struct {
	chain      chain.Client
	requests   store.IssuanceRequestStore
	publisher  queue.StatusPublisher
	hasher     chain.MetadataHasher
	maxRetries int32
	logger     *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		chain:      cfg.Chain,
		requests:   cfg.Requests,
		publisher:  cfg.Publisher,
		hasher:     cfg.Hasher,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.publisher == nil {
		p.publisher = queue.NewNoopStatusPublisher()
	}
	if p.hasher == nil {
		p.hasher = chain.NewMetadataHasher(config.MetadataModeTimestamped, nil)
	}
	return p
}

func (p *Processor) Process(ctx context.Context, req *model.IssuanceRequest) error {
	claimed, err := p.chain.IsClaimed(ctx, req.EventID, req.WalletAddress)
	if err != nil {
		return p.fail(ctx, req, err)
	}
	if claimed {
		p.logger.InfoContext(ctx, "token already held, marking issued")
		_, err := p.apply(ctx, req, req.IssuedAttempt())
		return err
	}

	metadata := p.hasher(req.EventID, req.WalletAddress)
	handle, err := p.chain.AwardToken(ctx, req.EventID, req.WalletAddress, metadata)
	if err != nil {
		return p.fail(ctx, req, err)
	}

	txHash := handle.String()
	processing, err := p.apply(ctx, req, model.Outcome{
		Status:     model.IssuanceStatusProcessing,
		TxHash:     &txHash,
		RetryCount: req.RetryCount,
	})
	if err != nil {
		return err
	}

	return p.confirm(ctx, processing, handle)
}

func (p *Processor) Reconcile(ctx context.Context, req *model.IssuanceRequest) error {
	claimed, err := p.chain.IsClaimed(ctx, req.EventID, req.WalletAddress)
	if err != nil {
		p.countChainError(err)
		return fmt.Errorf("checking claim for stale request: %w", err)
	}
	if claimed {
		p.logger.InfoContext(ctx, "stale request already claimed on chain")
		_, err := p.apply(ctx, req, req.IssuedAttempt())
		return err
	}

	if req.TxHash == nil || *req.TxHash == "" {
		return p.fail(ctx, req, errMissingTxHash)
	}

	return p.confirm(ctx, req, chain.TxHandle(*req.TxHash))
}

// confirm waits for a submitted award. A request whose wait is cut short by
// shutdown stays in processing for the reclaimer.
func (p *Processor) confirm(ctx context.Context, req *model.IssuanceRequest, handle chain.TxHandle) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TxHash: logger.Ptr(handle.String())})

	if err := p.chain.AwaitConfirmation(ctx, handle); err != nil {
		if ctx.Err() != nil {
			p.logger.WarnContext(ctx, "shutdown during confirmation, leaving request in processing")
			return ctx.Err()
		}
		return p.fail(ctx, req, err)
	}

	_, err := p.apply(ctx, req, req.IssuedAttempt())
	return err
}

func (p *Processor) fail(ctx context.Context, req *model.IssuanceRequest, cause error) error {
	p.countChainError(cause)

	outcome := req.FailedAttempt(cause, p.maxRetries)
	p.logger.WarnContext(ctx, "issuance attempt failed",
		"error", *outcome.LastError,
		"error_kind", chainErrorKind(cause),
		"retry_count", outcome.RetryCount,
		"status", outcome.Status)

	_, err := p.apply(ctx, req, outcome)
	return err
}

func (p *Processor) apply(ctx context.Context, req *model.IssuanceRequest, outcome model.Outcome) (*model.IssuanceRequest, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	updated, err := p.requests.ApplyOutcome(writeCtx, req.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("applying %s outcome: %w", outcome.Status, err)
	}
	metrics.RelayerOutcomes.WithLabelValues(string(outcome.Status)).Inc()

	if err := p.publisher.Publish(writeCtx, updated); err != nil {
		metrics.StatusPublishErrors.Inc()
		p.logger.WarnContext(ctx, "failed to publish status event", "error", err)
	}

	if updated.Status.IsTerminal() {
		p.logger.InfoContext(ctx, "issuance request settled",
			"status", updated.Status,
			"retry_count", updated.RetryCount)
	}
	return updated, nil
}

func chainErrorKind(err error) string {
	switch {
	case chain.IsReadError(err):
		return "read"
	case chain.IsWriteError(err):
		return "write"
	case chain.IsConfirmationError(err):
		return "confirmation"
	default:
		return "internal"
	}
}

func (p *Processor) countChainError(err error) {
	if op := chain.OpOf(err); op != "" {
		metrics.ChainErrors.WithLabelValues(string(op)).Inc()
	}
}
