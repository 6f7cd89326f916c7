package server

import (
	"context"
	"errors"

	"CreditLedger/internal/core"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/ingestion"
	"CreditLedger/internal/query"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps ledger errors onto gRPC codes. The HTTP side derives its
// status from the same code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, ingestion.ErrInvalidCommand),
		errors.Is(err, credit.ErrInconsistentInput),
		errors.Is(err, credit.ErrInvalidRepaymentBps),
		errors.Is(err, credit.ErrInvalidCreditLine),
		errors.Is(err, credit.ErrMaxFeeExceeded),
		errors.Is(err, credit.ErrInvalidCycleDuration),
		errors.Is(err, core.ErrUnknownEventType),
		errors.Is(err, query.ErrInvalidAccountPath):
		return codes.InvalidArgument
	case errors.Is(err, credit.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, credit.ErrMarketNotCreated), errors.Is(err, query.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, credit.ErrMarketAlreadyCreated):
		return codes.AlreadyExists
	case errors.Is(err, credit.ErrMarketFrozen),
		errors.Is(err, credit.ErrInsufficientLiquidity),
		errors.Is(err, credit.ErrInsufficientCollateral),
		errors.Is(err, credit.ErrInsufficientBorrowAmount),
		errors.Is(err, credit.ErrInsufficientSupply),
		errors.Is(err, credit.ErrOutstandingRepayment),
		errors.Is(err, credit.ErrMustPayFullObligation),
		errors.Is(err, credit.ErrRepayExceedsDebt),
		errors.Is(err, core.ErrSequenceGap),
		errors.Is(err, core.ErrOutOfOrder),
		errors.Is(err, core.ErrStaleTimestamp):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrRunnerStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
