package worker

import (
	"context"

	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/service"
)

// Consumer abstracts the intake stream for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.IntakeMessage, error)
	Ack(ctx context.Context, msg queue.IntakeMessage) error
	Requeue(ctx context.Context, msg queue.IntakeMessage, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.IntakeMessage, errMsg string) error
}

// RequestProcessor drives a single issuance request against the ledger.
type RequestProcessor interface {
	// Process runs one attempt for a pending request.
	Process(ctx context.Context, req *model.IssuanceRequest) error
	// Reconcile resolves a request left in processing by an interrupted attempt.
	Reconcile(ctx context.Context, req *model.IssuanceRequest) error
}

// Intake mirrors the part of service.IssuanceService the stream consumer needs.
type Intake interface {
	Request(ctx context.Context, params service.IssuanceRequestParams) (*service.IssuanceRequestResult, error)
}
