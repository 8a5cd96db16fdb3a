package service

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
)

var errorKinds = []struct {
	kind error
	name string
	code connect.Code
}{
	{engine.ErrBidTooLow, "bid_too_low", connect.CodeFailedPrecondition},
	{engine.ErrInsufficientBudget, "insufficient_budget", connect.CodeFailedPrecondition},
	{engine.ErrSelfOutbid, "self_outbid", connect.CodeFailedPrecondition},
	{engine.ErrInvalidState, "invalid_state", connect.CodeFailedPrecondition},
	{engine.ErrNotFound, "not_found", connect.CodeNotFound},
	{engine.ErrConflict, "conflict", connect.CodeAborted},
	{engine.ErrInvariantViolation, "invariant_violation", connect.CodeInternal},
}

// toConnectError maps engine errors to connect codes. The error kind and,
// for low bids, the minimum acceptable amount travel as metadata.
func toConnectError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	for _, k := range errorKinds {
		if !errors.Is(err, k.kind) {
			continue
		}
		cerr = connect.NewError(k.code, err)
		cerr.Meta().Set(HeaderErrorKind, k.name)
		var ee *engine.Error
		if errors.As(err, &ee) && ee.MinimumBid != nil {
			cerr.Meta().Set(HeaderMinimumBid, ee.MinimumBid.String())
		}
		return cerr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// ErrorKind extracts the engine error kind from a connect error returned
// to a client.
func ErrorKind(err error) string {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return ""
	}
	return cerr.Meta().Get(HeaderErrorKind)
}
