package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for transport mapping and retry policy.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindPrecondition   ErrorKind = "precondition"
	KindBudget         ErrorKind = "budget"
	KindStaleBid       ErrorKind = "stale_bid"
	KindNotFound       ErrorKind = "not_found"
	KindTransient      ErrorKind = "transient"
)

// Error is the engine's structured error. Code is a stable token suitable
// for UI switching; Details carries machine-readable guidance such as
// remaining_budget or the new outcry state after a lost race.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a new Error.
func E(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Ef builds a new Error with a formatted message.
func Ef(kind ErrorKind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches key/value guidance to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// KindOf extracts the kind from err, or KindTransient for unclassified
// errors (persistence failures default to retryable).
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// AsError returns the structured error inside err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}

// Common sentinel constructors. These are functions rather than shared
// values because each call site attaches its own details.

// ErrNothingToUndo is returned for UNDO with an empty history.
func ErrNothingToUndo() *Error {
	return E(KindPrecondition, "NOTHING_TO_UNDO", "no settlement action to undo")
}

// ErrNotLive is returned when an operation requires a LIVE auction.
func ErrNotLive(status AuctionStatus) *Error {
	return Ef(KindPrecondition, "AUCTION_NOT_LIVE", "auction is %s, not LIVE", status)
}

// ErrRoundClosed is returned when bidding on a round that is not OPEN.
func ErrRoundClosed() *Error {
	return E(KindPrecondition, "ROUND_CLOSED", "round is not open for bidding")
}

// ErrRoundExpired is returned when the outcry timer has elapsed.
func ErrRoundExpired() *Error {
	return E(KindPrecondition, "ROUND_EXPIRED", "round timer has expired")
}
