package handler_test

import (
	"context"

	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/service"
)

type mockIssuanceService struct {
	requestFn func(ctx context.Context, params service.IssuanceRequestParams) (*service.IssuanceRequestResult, error)
	statusFn  func(ctx context.Context, eventID int64, wallet string) (*service.IssuanceStatusResult, error)
}

func (m *mockIssuanceService) Request(ctx context.Context, params service.IssuanceRequestParams) (*service.IssuanceRequestResult, error) {
	if m.requestFn != nil {
		return m.requestFn(ctx, params)
	}
	return &service.IssuanceRequestResult{
		Request: &model.IssuanceRequest{EventID: params.EventID, WalletAddress: params.WalletAddress, Status: model.IssuanceStatusPending},
		Created: true,
		Message: service.MessagePending,
	}, nil
}

func (m *mockIssuanceService) Status(ctx context.Context, eventID int64, wallet string) (*service.IssuanceStatusResult, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, eventID, wallet)
	}
	return &service.IssuanceStatusResult{Status: model.ExternalStatusNotRequested}, nil
}
