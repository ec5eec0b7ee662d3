package state

import "errors"

// Input validation errors — raised before any state mutation.
var (
	ErrAmountIsZero               = errors.New("amount is zero")
	ErrZeroDebtChange             = errors.New("debt increase with zero debt change")
	ErrNotSingularCollateralChange = errors.New("cannot deposit and withdraw collateral in one adjustment")
	ErrNoCollateralOrDebtChange   = errors.New("no collateral or debt change")
	ErrMaxFeeOutOfRange           = errors.New("max fee percentage out of range")
	ErrBorrowingSpreadExceedsMax  = errors.New("borrowing spread exceeds maximum")
	ErrLiquidationProtocolFeeOutOfBound = errors.New("liquidation protocol fee out of bound")
)

// Solvency errors — computed against live, reward-applied figures.
var (
	ErrNetDebtBelowMinimum = errors.New("net debt below minimum")
	ErrICRBelowMCR         = errors.New("resulting icr lower than mcr")
	ErrRepayExceedsDebt    = errors.New("repay amount exceeds position debt")
	ErrWithdrawExceedsCollateral  = errors.New("withdrawal exceeds position collateral")
	ErrRepayInsufficientBalance   = errors.New("not enough debt tokens to repay")
	ErrRedemptionExceedsBalance   = errors.New("redemption amount exceeds debt token balance")
)

// Invariant-protection errors — guard against degenerate system states.
var (
	ErrPositionExists          = errors.New("position already active for owner")
	ErrPositionNotActive       = errors.New("position not active")
	ErrOnlyOnePositionInSystem = errors.New("only one position in system")
	ErrNothingToLiquidate      = errors.New("nothing to liquidate")
	ErrUnableToRedeemAnyAmount = errors.New("unable to redeem any amount")
	ErrFeeExceedsMaxFee        = errors.New("redemption fee exceeds max fee percentage")
	ErrFeeEatsUpAllReturnedCollateral = errors.New("fee eats up all returned collateral")
	ErrNoStakes                = errors.New("no stakes to distribute against")
)

// Authorization errors.
var (
	ErrDelegateNotWhitelisted = errors.New("delegate not whitelisted")
	ErrInvalidDelegate        = errors.New("invalid delegate")
)
