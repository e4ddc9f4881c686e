package shared

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Sentinel errors shared across the settlement components
var (
	ErrNotFound            = errors.New("not found")
	ErrUnparsableMemo      = errors.New("unparsable deposit memo")
	ErrNotTreasuryTransfer = errors.New("transaction is not a transfer to the treasury")

	ErrCommitNotFound       = errors.New("server commit not found")
	ErrCommitExpired        = errors.New("server commit expired")
	ErrClientCommitMismatch = errors.New("client seed does not match client commit")
	ErrClientCommitReplay   = errors.New("client commit already used")
	ErrUnsupportedGame      = errors.New("unsupported game type")
)

// ValidationError rejects bad input before any state change
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Is matches any ValidationError when the target field is empty
func (e ValidationError) Is(target error) bool {
	t, ok := target.(ValidationError)
	if !ok {
		return false
	}
	return t.Field == "" || t.Field == e.Field
}

// ConflictError indicates a duplicate signature or idempotency key
type ConflictError struct {
	Resource string
	Key      string
}

func (e ConflictError) Error() string {
	return e.Resource + " already exists: " + e.Key
}

// Is matches any ConflictError when the target resource is empty
func (e ConflictError) Is(target error) bool {
	t, ok := target.(ConflictError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// InsufficientFundsError is returned when the available balance cannot cover a debit
type InsufficientFundsError struct {
	UserID    string
	Requested int64
	Available int64
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: requested %d, available %d", e.UserID, e.Requested, e.Available)
}

// Is matches any InsufficientFundsError when the target user is empty
func (e InsufficientFundsError) Is(target error) bool {
	t, ok := target.(InsufficientFundsError)
	if !ok {
		return false
	}
	return t.UserID == "" || t.UserID == e.UserID
}

// TransientInfraError wraps an RPC or network failure that is worth retrying
type TransientInfraError struct {
	Op  string
	Err error
}

func (e TransientInfraError) Error() string {
	return "transient failure during " + e.Op + ": " + e.Err.Error()
}

func (e TransientInfraError) Unwrap() error {
	return e.Err
}

// FatalJobError is surfaced once a payout job exhausted its attempts
type FatalJobError struct {
	JobID    uuid.UUID
	Attempts int
	Reason   string
}

func (e FatalJobError) Error() string {
	return "payout job " + e.JobID.String() + " failed after " + strconv.Itoa(e.Attempts) + " attempts: " + e.Reason
}

// FairnessProtocolError covers commit/reveal mismatches and replays
type FairnessProtocolError struct {
	Err    error
	Detail string
}

func (e FairnessProtocolError) Error() string {
	if e.Detail == "" {
		return "fairness protocol: " + e.Err.Error()
	}
	return "fairness protocol: " + e.Err.Error() + ": " + e.Detail
}

func (e FairnessProtocolError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying on a later tick
func IsRetryable(err error) bool {
	var transient TransientInfraError
	return errors.As(err, &transient)
}

// IsBoundaryError reports errors that must be handled at the boundary and never retried
func IsBoundaryError(err error) bool {
	var fairness FairnessProtocolError
	return errors.Is(err, ValidationError{}) ||
		errors.Is(err, ConflictError{}) ||
		errors.Is(err, InsufficientFundsError{}) ||
		errors.Is(err, ErrNotFound) ||
		errors.As(err, &fairness)
}
