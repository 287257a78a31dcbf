package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"eventvax.app/relay/common/id"
	"eventvax.app/relay/core/db/sqlc"
	"eventvax.app/relay/internal/model"
)

type issuanceRequestStore struct {
	queries *sqlc.Queries
}

func newIssuanceRequestStore(queries *sqlc.Queries) IssuanceRequestStore {
	return &issuanceRequestStore{queries: queries}
}

func (s *issuanceRequestStore) Submit(ctx context.Context, eventID int64, wallet string) (*model.IssuanceRequest, bool, error) {
	wallet = strings.ToLower(wallet)

	row, err := s.queries.InsertIssuanceRequest(ctx, sqlc.InsertIssuanceRequestParams{
		ID:            id.New(),
		EventID:       eventID,
		WalletAddress: wallet,
	})
	if err == nil {
		return toIssuanceRequestModel(row), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting issuance request: %w", err)
	}

	// ON CONFLICT DO NOTHING returns no row: the pair already exists.
	existing, err := s.GetByPair(ctx, eventID, wallet)
	if err != nil {
		return nil, false, fmt.Errorf("loading existing issuance request: %w", err)
	}
	return existing, false, nil
}

func (s *issuanceRequestStore) GetByPair(ctx context.Context, eventID int64, wallet string) (*model.IssuanceRequest, error) {
	row, err := s.queries.GetIssuanceRequestByPair(ctx, sqlc.GetIssuanceRequestByPairParams{
		EventID:       eventID,
		WalletAddress: strings.ToLower(wallet),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toIssuanceRequestModel(row), nil
}

func (s *issuanceRequestStore) ListEligible(ctx context.Context, limit, maxRetries int32) ([]model.IssuanceRequest, error) {
	rows, err := s.queries.ListEligibleIssuanceRequests(ctx, sqlc.ListEligibleIssuanceRequestsParams{
		MaxRetries: maxRetries,
		BatchLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	return toIssuanceRequestModels(rows), nil
}

func (s *issuanceRequestStore) ApplyOutcome(ctx context.Context, reqID int64, outcome model.Outcome) (*model.IssuanceRequest, error) {
	if !outcome.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, outcome.Status)
	}

	var lastError *string
	if outcome.LastError != nil {
		truncated := model.TruncateError(*outcome.LastError)
		lastError = &truncated
	}

	row, err := s.queries.ApplyIssuanceOutcome(ctx, sqlc.ApplyIssuanceOutcomeParams{
		ID:         reqID,
		Status:     string(outcome.Status),
		TxHash:     outcome.TxHash,
		RetryCount: outcome.RetryCount,
		LastError:  lastError,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row missing or already issued/failed
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return toIssuanceRequestModel(row), nil
}

func (s *issuanceRequestStore) ListStaleProcessing(ctx context.Context, idleBefore time.Time, limit int32) ([]model.IssuanceRequest, error) {
	rows, err := s.queries.ListStaleProcessingIssuanceRequests(ctx, sqlc.ListStaleProcessingIssuanceRequestsParams{
		IdleBefore: pgtype.Timestamptz{Time: idleBefore, Valid: true},
		BatchLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	return toIssuanceRequestModels(rows), nil
}

func (s *issuanceRequestStore) CountByStatus(ctx context.Context) (map[model.IssuanceStatus]int64, error) {
	rows, err := s.queries.CountIssuanceRequestsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[model.IssuanceStatus]int64{
		model.IssuanceStatusPending:    0,
		model.IssuanceStatusProcessing: 0,
		model.IssuanceStatusIssued:     0,
		model.IssuanceStatusFailed:     0,
	}
	for _, row := range rows {
		counts[model.IssuanceStatus(row.Status)] = row.Total
	}
	return counts, nil
}

func toIssuanceRequestModel(row sqlc.IssuanceRequest) *model.IssuanceRequest {
	return &model.IssuanceRequest{
		ID:            row.ID,
		EventID:       row.EventID,
		WalletAddress: row.WalletAddress,
		Status:        model.IssuanceStatus(row.Status),
		TxHash:        row.TxHash,
		RetryCount:    row.RetryCount,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
}

func toIssuanceRequestModels(rows []sqlc.IssuanceRequest) []model.IssuanceRequest {
	reqs := make([]model.IssuanceRequest, len(rows))
	for i, row := range rows {
		reqs[i] = *toIssuanceRequestModel(row)
	}
	return reqs
}
