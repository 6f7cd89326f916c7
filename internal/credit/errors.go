package credit

import "errors"

var (
	ErrMarketFrozen             = errors.New("credit: market frozen")
	ErrInvalidCycleDuration     = errors.New("credit: invalid cycle duration")
	ErrInsufficientLiquidity    = errors.New("credit: insufficient liquidity")
	ErrInsufficientCollateral   = errors.New("credit: insufficient collateral")
	ErrInsufficientBorrowAmount = errors.New("credit: insufficient borrow amount")
	ErrOutstandingRepayment     = errors.New("credit: outstanding repayment")
	ErrMustPayFullObligation    = errors.New("credit: must pay full obligation")
	ErrUnauthorized             = errors.New("credit: unauthorized")

	ErrInconsistentInput    = errors.New("credit: inconsistent input")
	ErrMarketNotCreated     = errors.New("credit: market not created")
	ErrMarketAlreadyCreated = errors.New("credit: market already created")
	ErrInsufficientSupply   = errors.New("credit: insufficient supply shares")
	ErrRepayExceedsDebt     = errors.New("credit: repay exceeds debt")
	ErrInvalidRepaymentBps  = errors.New("credit: repayment bps above 10000")
	ErrMaxFeeExceeded       = errors.New("credit: max fee exceeded")
	ErrInvalidCreditLine    = errors.New("credit: credit line out of bounds")
	ErrReentrantCall        = errors.New("credit: reentrant call")
	ErrUnknownCollaborator  = errors.New("credit: unknown collaborator")
)
