package dto

import (
	"time"

	"eventvax.app/relay/internal/service"
)

// Field names follow the web client's camelCase contract.

type IssuanceRequest struct {
	EventID       *int64 `json:"eventId" binding:"required,min=0"`
	WalletAddress string `json:"walletAddress" binding:"required"`
}

type IssuanceResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type IssuanceStatusResponse struct {
	Success     bool       `json:"success"`
	Status      string     `json:"status"`
	TxHash      *string    `json:"txHash"`
	RequestedAt *time.Time `json:"requestedAt"`
	RetryCount  int32      `json:"retryCount"`
	LastError   *string    `json:"lastError,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func ToIssuanceResponse(r *service.IssuanceRequestResult) *IssuanceResponse {
	return &IssuanceResponse{
		Success: true,
		Status:  string(r.Request.Status),
		Message: r.Message,
	}
}

func ToIssuanceStatusResponse(r *service.IssuanceStatusResult) *IssuanceStatusResponse {
	return &IssuanceStatusResponse{
		Success:     true,
		Status:      string(r.Status),
		TxHash:      r.TxHash,
		RequestedAt: r.RequestedAt,
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
	}
}

func NewErrorResponse(msg string) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: msg}
}
