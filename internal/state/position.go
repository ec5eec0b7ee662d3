package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Status is the position lifecycle state. A position transitions to a
// terminal closed status exactly once and cannot be reopened without being
// fully re-created.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "nonExistent"
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closedByOwner"
	case StatusClosedByLiquidation:
		return "closedByLiquidation"
	case StatusClosedByRedemption:
		return "closedByRedemption"
	default:
		return "unknown"
	}
}

// Position is a single collateralized debt position. Debt and Collateral are
// the recorded figures as of the last reward application; the live figures
// additionally include the pending share of redistributed liquidations,
// computed from the snapshot lag against the global L-terms.
type Position struct {
	Owner      uuid.UUID
	Debt       *uint256.Int
	Collateral *uint256.Int

	// Stake is the collateral-equivalent weight used to allocate
	// liquidation remainders pro rata.
	Stake *uint256.Int

	Status Status

	// L-term values at the last reward application.
	SnapshotCollateral *uint256.Int
	SnapshotDebt       *uint256.Int
}

func newPosition(owner uuid.UUID) *Position {
	return &Position{
		Owner:              owner,
		Debt:               new(uint256.Int),
		Collateral:         new(uint256.Int),
		Stake:              new(uint256.Int),
		Status:             StatusNonExistent,
		SnapshotCollateral: new(uint256.Int),
		SnapshotDebt:       new(uint256.Int),
	}
}

// IsActive reports whether the position is open.
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}
