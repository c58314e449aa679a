package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the bet core returns to its callers
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindExpired             ErrorKind = "expired"
	KindAlreadyStaked       ErrorKind = "already_staked"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindValidation          ErrorKind = "validation"
	KindResultsNotAvailable ErrorKind = "results_not_available"
	KindUnavailable         ErrorKind = "unavailable"
	KindPartialSettlement   ErrorKind = "partial_settlement_failure"
	KindInternal            ErrorKind = "internal"
)

// Error is a typed business failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrAlreadyStaked       = &Error{Kind: KindAlreadyStaked}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrResultsNotAvailable = &Error{Kind: KindResultsNotAvailable}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
)

// Internal sentinels shared between the services and the storage layer
var (
	// ErrTransient marks storage failures that are worth retrying
	ErrTransient = errors.New("transient storage failure")
	// ErrDuplicateKey is returned when an idempotency key has already been recorded
	ErrDuplicateKey = errors.New("duplicate idempotency key")
	// ErrLockHeld is returned by a StakeLocker when another caller holds the key
	ErrLockHeld = errors.New("lock already held")
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewNotFoundError is used by storage implementations for missing records
func NewNotFoundError(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// NewAlreadyStakedError is used by storage implementations when the
// participation uniqueness constraint rejects an insert
func NewAlreadyStakedError(betID, userID int64) error {
	return newError(KindAlreadyStaked, "user %d has already staked on bet %d", userID, betID)
}

// NewInsufficientFundsError is used by storage implementations when a
// conditional debit finds too small a balance
func NewInsufficientFundsError(userID, amount int64) error {
	return newError(KindInsufficientFunds, "user %d has insufficient balance for %d", userID, amount)
}

// NewInvalidStateError is used by storage implementations when a conditional
// status update no longer matches
func NewInvalidStateError(format string, args ...any) error {
	return newError(KindInvalidState, format, args...)
}

// PartialSettlementFailure reports a resolved bet whose payouts were not all
// applied. The bet stays completed and the failed payouts remain queued for
// reconciliation.
type PartialSettlementFailure struct {
	BetID           int64
	ResolvedWinners []int64
	FailedWinners   []int64
}

func (e *PartialSettlementFailure) Error() string {
	return fmt.Sprintf("bet %d settled with %d of %d payouts failed; failed winners %v queued for reconciliation",
		e.BetID, len(e.FailedWinners), len(e.ResolvedWinners)+len(e.FailedWinners), e.FailedWinners)
}

// KindOf returns the taxonomy kind of err, or KindInternal for untyped errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var partial *PartialSettlementFailure
	if errors.As(err, &partial) {
		return KindPartialSettlement
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, ErrTransient) {
		return KindUnavailable
	}
	return KindInternal
}
