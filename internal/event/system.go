package event

import (
	"github.com/google/uuid"
)

// Liquidation is the aggregate event for a liquidation call (single or batch)
type Liquidation struct {
	Liquidator      uuid.UUID `json:"liquidator"`
	Positions       int       `json:"positions"`
	TotalDebt       string    `json:"total_debt"`
	TotalCollateral string    `json:"total_collateral"`
	GasCompensation string    `json:"gas_compensation"`
	ProtocolFee     string    `json:"protocol_fee"`
}

func (e *Liquidation) EventType() EventType { return EventTypeLiquidation }

// Redemption is the aggregate event for a redeemCollateral call
type Redemption struct {
	Redeemer        uuid.UUID `json:"redeemer"`
	Attempted       string    `json:"attempted"`
	Redeemed        string    `json:"redeemed"`
	CollateralDrawn string    `json:"collateral_drawn"`
	Fee             string    `json:"fee"`
}

func (e *Redemption) EventType() EventType { return EventTypeRedemption }

// CollateralFunded emitted when external collateral enters the vault
type CollateralFunded struct {
	Holder uuid.UUID `json:"holder"`
	Amount string    `json:"amount"`
}

func (e *CollateralFunded) EventType() EventType { return EventTypeCollateralFunded }

// TotalStakesUpdated emitted whenever the global stake sum changes
type TotalStakesUpdated struct {
	TotalStakes string `json:"total_stakes"`
}

func (e *TotalStakesUpdated) EventType() EventType { return EventTypeTotalStakesUpdated }

// SystemSnapshotsUpdated emitted after a liquidation refreshes the
// stake-scaling snapshots
type SystemSnapshotsUpdated struct {
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
}

func (e *SystemSnapshotsUpdated) EventType() EventType { return EventTypeSystemSnapshotsUpdated }

// LTermsUpdated emitted when liquidation remainders are folded into the
// global reward accumulators
type LTermsUpdated struct {
	LCollateral string `json:"l_collateral"`
	LDebt       string `json:"l_debt"`
}

func (e *LTermsUpdated) EventType() EventType { return EventTypeLTermsUpdated }

// BaseRateUpdated emitted when the decayed or redemption-bumped base rate is
// written back
type BaseRateUpdated struct {
	BaseRate string `json:"base_rate"`
}

func (e *BaseRateUpdated) EventType() EventType { return EventTypeBaseRateUpdated }

// BorrowingSpreadUpdated emitted by the privileged spread setter
type BorrowingSpreadUpdated struct {
	BorrowingSpread string `json:"borrowing_spread"`
}

func (e *BorrowingSpreadUpdated) EventType() EventType { return EventTypeBorrowingSpreadUpdated }

// LiquidationProtocolFeeChanged emitted by the privileged fee setter
type LiquidationProtocolFeeChanged struct {
	LiquidationProtocolFee string `json:"liquidation_protocol_fee"`
}

func (e *LiquidationProtocolFeeChanged) EventType() EventType {
	return EventTypeLiquidationProtocolFeeChanged
}
