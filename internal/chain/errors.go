package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrSignerNotConfigured means no relayer key is set. The relayer stays
	// disabled while intake keeps working.
	ErrSignerNotConfigured = errors.New("relayer signing key not configured")
	ErrInvalidSigner       = errors.New("relayer signing key is invalid")
	ErrContractNotSet      = errors.New("contract address not configured")

	ErrTxReverted          = errors.New("transaction reverted")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

type Op string

const (
	OpClaimCheck Op = "claim_check"
	OpAward      Op = "award"
	OpConfirm    Op = "confirm"
	OpRoleCheck  Op = "role_check"
)

// Error wraps every failure that came back from the ledger together with the
// operation that produced it.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// OpOf returns the operation of a chain error, or "" for anything else.
func OpOf(err error) Op {
	var chainErr *Error
	if errors.As(err, &chainErr) {
		return chainErr.Op
	}
	return ""
}

func IsReadError(err error) bool {
	op := OpOf(err)
	return op == OpClaimCheck || op == OpRoleCheck
}

func IsWriteError(err error) bool {
	return OpOf(err) == OpAward
}

func IsConfirmationError(err error) bool {
	return OpOf(err) == OpConfirm
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrSignerNotConfigured) ||
		errors.Is(err, ErrInvalidSigner) ||
		errors.Is(err, ErrContractNotSet)
}
