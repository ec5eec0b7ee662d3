package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Command is a validated user intent, built by the transport layer and
// executed by the engine loop. Key returns the caller-supplied idempotency
// key; submitting the same (kind, key) twice is a no-op.
type Command interface {
	Kind() string
	Key() string
}

type FundCollateral struct {
	IdempotencyKey string
	Holder         uuid.UUID
	Amount         *uint256.Int
}

func (c *FundCollateral) Kind() string { return "fund_collateral" }
func (c *FundCollateral) Key() string  { return c.IdempotencyKey }

type OpenPosition struct {
	IdempotencyKey string
	Caller         uuid.UUID
	Owner          uuid.UUID
	Collateral     *uint256.Int
	Debt           *uint256.Int
	HintPrev       uuid.UUID
	HintNext       uuid.UUID
}

func (c *OpenPosition) Kind() string { return "open_position" }
func (c *OpenPosition) Key() string  { return c.IdempotencyKey }

type AdjustPosition struct {
	IdempotencyKey    string
	Caller            uuid.UUID
	Owner             uuid.UUID
	CollateralDeposit *uint256.Int
	CollateralWithdraw *uint256.Int
	DebtChange        *uint256.Int
	IsDebtIncrease    bool
	HintPrev          uuid.UUID
	HintNext          uuid.UUID
}

func (c *AdjustPosition) Kind() string { return "adjust_position" }
func (c *AdjustPosition) Key() string  { return c.IdempotencyKey }

type ClosePosition struct {
	IdempotencyKey string
	Caller         uuid.UUID
	Owner          uuid.UUID
}

func (c *ClosePosition) Kind() string { return "close_position" }
func (c *ClosePosition) Key() string  { return c.IdempotencyKey }

type Liquidate struct {
	IdempotencyKey string
	Liquidator     uuid.UUID
	Owner          uuid.UUID
}

func (c *Liquidate) Kind() string { return "liquidate" }
func (c *Liquidate) Key() string  { return c.IdempotencyKey }

type BatchLiquidate struct {
	IdempotencyKey string
	Liquidator     uuid.UUID
	Owners         []uuid.UUID
}

func (c *BatchLiquidate) Kind() string { return "batch_liquidate" }
func (c *BatchLiquidate) Key() string  { return c.IdempotencyKey }

type RedeemCollateral struct {
	IdempotencyKey   string
	Redeemer         uuid.UUID
	Amount           *uint256.Int
	FirstHint        uuid.UUID
	PartialHintPrev  uuid.UUID
	PartialHintNext  uuid.UUID
	PartialNICR      *uint256.Int
	MaxIterations    int
	MaxFeePercentage *uint256.Int
}

func (c *RedeemCollateral) Kind() string { return "redeem_collateral" }
func (c *RedeemCollateral) Key() string  { return c.IdempotencyKey }

type WhitelistDelegate struct {
	IdempotencyKey string
	Owner          uuid.UUID
	Delegate       uuid.UUID
	Whitelisted    bool
}

func (c *WhitelistDelegate) Kind() string { return "whitelist_delegate" }
func (c *WhitelistDelegate) Key() string  { return c.IdempotencyKey }

type SetGlobalDelegate struct {
	IdempotencyKey string
	Delegate       uuid.UUID
	Whitelisted    bool
}

func (c *SetGlobalDelegate) Kind() string { return "set_global_delegate" }
func (c *SetGlobalDelegate) Key() string  { return c.IdempotencyKey }

type SetBorrowingSpread struct {
	IdempotencyKey string
	Spread         *uint256.Int
}

func (c *SetBorrowingSpread) Kind() string { return "set_borrowing_spread" }
func (c *SetBorrowingSpread) Key() string  { return c.IdempotencyKey }

type SetLiquidationProtocolFee struct {
	IdempotencyKey string
	Fee            *uint256.Int
}

func (c *SetLiquidationProtocolFee) Kind() string { return "set_liquidation_protocol_fee" }
func (c *SetLiquidationProtocolFee) Key() string  { return c.IdempotencyKey }
