package store

import (
	"context"
	"errors"
	"time"

	"eventvax.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when an outcome targets a row that is
// missing or already terminal.
var ErrInvalidTransition = errors.New("invalid status transition")

// IssuanceRequestStore defines the contract for issuance request data access.
// It is the only source of truth for request state.
type IssuanceRequestStore interface {
	// Submit creates a pending request for the pair, or returns the existing one
	// unchanged. created reports whether a new row was inserted.
	Submit(ctx context.Context, eventID int64, wallet string) (req *model.IssuanceRequest, created bool, err error)
	GetByPair(ctx context.Context, eventID int64, wallet string) (*model.IssuanceRequest, error)
	// ListEligible returns pending requests under the retry cap, oldest first.
	ListEligible(ctx context.Context, limit, maxRetries int32) ([]model.IssuanceRequest, error)
	ApplyOutcome(ctx context.Context, id int64, outcome model.Outcome) (*model.IssuanceRequest, error)
	ListStaleProcessing(ctx context.Context, idleBefore time.Time, limit int32) ([]model.IssuanceRequest, error)
	CountByStatus(ctx context.Context) (map[model.IssuanceStatus]int64, error)
}
