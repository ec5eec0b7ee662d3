package state

import (
	"github.com/holiman/uint256"
)

// Protocol parameters, all at 18-decimal scale unless noted.
var (
	// MCR is the minimum collateralization ratio (110%). Positions below it
	// are liquidatable and may not be created or adjusted into existence.
	MCR = uint256.MustFromDecimal("1100000000000000000")

	// FullCollateralization (100%) is the redemption eligibility floor:
	// positions below it must be liquidated, not redeemed against.
	FullCollateralization = uint256.MustFromDecimal("1000000000000000000")

	// MinNetDebt is the protocol-wide minimum debt of an active position
	// (3000 units).
	MinNetDebt = uint256.MustFromDecimal("3000000000000000000000")

	// MinuteDecayFactor gives the base rate a 12-hour half-life.
	MinuteDecayFactor = uint256.MustFromDecimal("999037758833783000")

	// MaxBorrowingSpread bounds the configurable borrowing spread (1%).
	MaxBorrowingSpread = uint256.MustFromDecimal("10000000000000000")

	// MaxBorrowingRate caps spread + base rate (5%).
	MaxBorrowingRate = uint256.MustFromDecimal("50000000000000000")

	// RedemptionSpreadFloor is the minimum redemption fee (0.5%), and the
	// lower bound of an acceptable maxFeePercentage.
	RedemptionSpreadFloor = uint256.MustFromDecimal("5000000000000000")

	// MaxLiquidationProtocolFee bounds the configurable protocol slice of
	// liquidated collateral (80%).
	MaxLiquidationProtocolFee = uint256.MustFromDecimal("800000000000000000")
)

const (
	// Beta divides the redeemed-collateral fraction when bumping the base
	// rate, halving the marginal fee pressure of a redemption.
	Beta = 2

	// GasCompensationDivisor: 1/200th (0.5%) of a liquidated position's
	// collateral compensates the liquidator for gas.
	GasCompensationDivisor = 200
)
