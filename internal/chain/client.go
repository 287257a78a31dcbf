package chain

import (
	"context"
)

// TxHandle identifies a submitted transaction (its 0x-prefixed hash).
type TxHandle string

func (h TxHandle) String() string {
	return string(h)
}

// Client is the relayer's view of the proof-of-attendance contract.
type Client interface {
	// IsClaimed reports whether the wallet already holds the token for the event.
	IsClaimed(ctx context.Context, eventID int64, wallet string) (bool, error)
	// AwardToken submits the award transaction and returns without waiting for it.
	AwardToken(ctx context.Context, eventID int64, wallet string, metadata [32]byte) (TxHandle, error)
	// AwaitConfirmation blocks until the transaction is mined successfully,
	// reverts, or the confirmation timeout elapses.
	AwaitConfirmation(ctx context.Context, handle TxHandle) error
	// HasIssuerRole checks that the relayer account may award tokens.
	HasIssuerRole(ctx context.Context) (bool, error)
	// Address is the relayer's signing address.
	Address() string
}
