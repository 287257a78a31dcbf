package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/internal/metrics"
	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/store"
)

var (
	ErrInvalidWallet  = errors.New("wallet address must be a 0x-prefixed 20-byte hex string")
	ErrInvalidEventID = errors.New("event id must not be negative")
)

const (
	MessageAlreadyIssued = "POAP already issued"
	MessagePending       = "Request pending"
	MessageFailed        = "Request failed"
)

type IssuanceRequestParams struct {
	EventID       int64
	WalletAddress string
	Source        string // "http", "stream", ...
}

type IssuanceRequestResult struct {
	Request *model.IssuanceRequest
	Created bool
	Message string
}

type IssuanceStatusResult struct {
	Status      model.ExternalStatus
	TxHash      *string
	RequestedAt *time.Time
	RetryCount  int32
	LastError   *string
}

// IssuanceService is the intake and status boundary. It never mutates a
// request after creation; that is the relayer's job.
type IssuanceService interface {
	Request(ctx context.Context, params IssuanceRequestParams) (*IssuanceRequestResult, error)
	Status(ctx context.Context, eventID int64, wallet string) (*IssuanceStatusResult, error)
}

type issuanceService struct {
	requests  store.IssuanceRequestStore
	txRunner  TxRunner
	publisher queue.StatusPublisher
	logger    *slog.Logger
}

func NewIssuanceService(requests store.IssuanceRequestStore, txRunner TxRunner, publisher queue.StatusPublisher, logger *slog.Logger) IssuanceService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = queue.NewNoopStatusPublisher()
	}
	return &issuanceService{
		requests:  requests,
		txRunner:  txRunner,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *issuanceService) Request(ctx context.Context, params IssuanceRequestParams) (*IssuanceRequestResult, error) {
	source := params.Source
	if source == "" {
		source = "http"
	}

	if params.EventID < 0 {
		metrics.IntakeTotal.WithLabelValues(source, metrics.IntakeInvalid).Inc()
		return nil, ErrInvalidEventID
	}
	wallet, ok := model.NormalizeWallet(params.WalletAddress)
	if !ok {
		metrics.IntakeTotal.WithLabelValues(source, metrics.IntakeInvalid).Inc()
		return nil, ErrInvalidWallet
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   &params.EventID,
		Wallet:    &wallet,
		Component: "relay.service.issuance",
	})

	var (
		req     *model.IssuanceRequest
		created bool
	)
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		req, created, err = sp.IssuanceRequests().Submit(ctx, params.EventID, wallet)
		return err
	}); err != nil {
		metrics.IntakeTotal.WithLabelValues(source, metrics.IntakeError).Inc()
		return nil, fmt.Errorf("submitting issuance request: %w", err)
	}

	if created {
		metrics.IntakeTotal.WithLabelValues(source, metrics.IntakeCreated).Inc()
		s.logger.InfoContext(ctx, "issuance request created", "request_id", req.ID, "source", source)
		if err := s.publisher.Publish(ctx, req); err != nil {
			metrics.StatusPublishErrors.Inc()
			s.logger.WarnContext(ctx, "failed to publish status event", "error", err)
		}
	} else {
		metrics.IntakeTotal.WithLabelValues(source, metrics.IntakeDuplicate).Inc()
		s.logger.DebugContext(ctx, "duplicate issuance request", "request_id", req.ID, "status", req.Status)
	}

	return &IssuanceRequestResult{
		Request: req,
		Created: created,
		Message: messageFor(req.Status),
	}, nil
}

func (s *issuanceService) Status(ctx context.Context, eventID int64, wallet string) (*IssuanceStatusResult, error) {
	if eventID < 0 {
		return nil, ErrInvalidEventID
	}
	normalized, ok := model.NormalizeWallet(wallet)
	if !ok {
		return nil, ErrInvalidWallet
	}

	req, err := s.requests.GetByPair(ctx, eventID, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &IssuanceStatusResult{Status: model.ExternalStatusNotRequested}, nil
		}
		return nil, fmt.Errorf("fetching issuance request: %w", err)
	}

	requestedAt := req.CreatedAt
	return &IssuanceStatusResult{
		Status:      model.ExternalStatus(req.Status),
		TxHash:      req.TxHash,
		RequestedAt: &requestedAt,
		RetryCount:  req.RetryCount,
		LastError:   req.LastError,
	}, nil
}

func messageFor(status model.IssuanceStatus) string {
	switch status {
	case model.IssuanceStatusIssued:
		return MessageAlreadyIssued
	case model.IssuanceStatusFailed:
		return MessageFailed
	default:
		return MessagePending
	}
}
