package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds returned by the engine. Match them with errors.Is.
var (
	ErrInvalidState       = errors.New("invalid state")
	ErrBidTooLow          = errors.New("bid too low")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrSelfOutbid         = errors.New("self outbid")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Error is a rejected command. Reason is safe to show to the user.
type Error struct {
	Kind       error
	Reason     string
	MinimumBid *decimal.Decimal
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) *Error {
	return newError(ErrInvalidState, format, args...)
}

func invariantViolation(format string, args ...any) *Error {
	return newError(ErrInvariantViolation, format, args...)
}

func bidTooLow(minimum decimal.Decimal) *Error {
	return &Error{
		Kind:       ErrBidTooLow,
		Reason:     fmt.Sprintf("minimum bid is %s", minimum.String()),
		MinimumBid: &minimum,
	}
}

// NotFoundError reports an unknown auction, player or team.
func NotFoundError(what string, id fmt.Stringer) *Error {
	return newError(ErrNotFound, "%s %s not found", what, id)
}

// Reason returns the user-facing reason of err, or err.Error() for errors
// that did not originate in the engine.
func Reason(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return err.Error()
}
