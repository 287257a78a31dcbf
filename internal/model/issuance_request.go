package model

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

type IssuanceStatus string

const (
	IssuanceStatusPending    IssuanceStatus = "pending"
	IssuanceStatusProcessing IssuanceStatus = "processing"
	IssuanceStatusIssued     IssuanceStatus = "issued"
	IssuanceStatusFailed     IssuanceStatus = "failed"
)

// ExternalStatus is what status queries report. It extends IssuanceStatus with
// not_requested for pairs that have no record.
type ExternalStatus string

const (
	ExternalStatusNotRequested ExternalStatus = "not_requested"
	ExternalStatusPending      ExternalStatus = ExternalStatus(IssuanceStatusPending)
	ExternalStatusProcessing   ExternalStatus = ExternalStatus(IssuanceStatusProcessing)
	ExternalStatusIssued       ExternalStatus = ExternalStatus(IssuanceStatusIssued)
	ExternalStatusFailed       ExternalStatus = ExternalStatus(IssuanceStatusFailed)
)

// MaxLastErrorLen bounds the stored failure message.
const MaxLastErrorLen = 500

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IssuanceRequest is the single persisted record per (event, wallet) pair.
type IssuanceRequest struct {
	ID            int64          `json:"id"`
	EventID       int64          `json:"event_id"`
	WalletAddress string         `json:"wallet_address"`
	Status        IssuanceStatus `json:"status"`
	TxHash        *string        `json:"tx_hash,omitempty"`
	RetryCount    int32          `json:"retry_count"`
	LastError     *string        `json:"last_error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Outcome is the full result of one processing attempt, applied to a row in a
// single update. Nil TxHash and LastError leave the stored values untouched.
type Outcome struct {
	Status     IssuanceStatus
	TxHash     *string
	RetryCount int32
	LastError  *string
}

func (s IssuanceStatus) IsValid() bool {
	switch s {
	case IssuanceStatusPending, IssuanceStatusProcessing, IssuanceStatusIssued, IssuanceStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never change again.
func (s IssuanceStatus) IsTerminal() bool {
	return s == IssuanceStatusIssued || s == IssuanceStatusFailed
}

// CanTransitionTo enforces the forward-only lifecycle.
func (s IssuanceStatus) CanTransitionTo(next IssuanceStatus) bool {
	switch s {
	case IssuanceStatusPending:
		return next.IsValid()
	case IssuanceStatusProcessing:
		return next == IssuanceStatusIssued || next == IssuanceStatusPending || next == IssuanceStatusFailed
	default:
		return false
	}
}

// IsEligible reports whether the relayer may pick the request up.
func (r *IssuanceRequest) IsEligible(maxRetries int32) bool {
	return r.Status == IssuanceStatusPending && r.RetryCount < maxRetries
}

// FailedAttempt builds the outcome of an attempt that errored: one more retry
// is consumed and the request fails permanently once the cap is reached.
func (r *IssuanceRequest) FailedAttempt(err error, maxRetries int32) Outcome {
	next := r.RetryCount + 1
	status := IssuanceStatusPending
	if next >= maxRetries {
		status = IssuanceStatusFailed
	}
	msg := TruncateError(err.Error())
	return Outcome{
		Status:     status,
		RetryCount: next,
		LastError:  &msg,
	}
}

// IssuedAttempt builds the outcome of a confirmed or already-held award. The
// retry count carries over so earlier failures stay on record.
func (r *IssuanceRequest) IssuedAttempt() Outcome {
	return Outcome{
		Status:     IssuanceStatusIssued,
		RetryCount: r.RetryCount,
	}
}

// NormalizeWallet lower-cases a 0x-prefixed 20-byte hex address.
// The second return value is false when the input is not such an address.
func NormalizeWallet(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if !walletPattern.MatchString(addr) {
		return "", false
	}
	return strings.ToLower(addr), true
}

// TruncateError bounds a failure message to MaxLastErrorLen characters
// without splitting a multi-byte rune.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxLastErrorLen {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxLastErrorLen])
}
