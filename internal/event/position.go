package event

import (
	"github.com/google/uuid"
)

// Amounts in event payloads are 18-decimal values rendered as decimal strings,
// so the JSON log is stable and human-readable regardless of magnitude.

// PositionCreated emitted once when a position opens
type PositionCreated struct {
	Owner      uuid.UUID `json:"owner"`
	Collateral string    `json:"collateral"`
	Debt       string    `json:"debt"`
	Stake      string    `json:"stake"`
}

func (e *PositionCreated) EventType() EventType { return EventTypePositionCreated }

// PositionUpdated emitted on every mutation of a position's figures,
// including the terminal zeroing on close.
type PositionUpdated struct {
	Owner      uuid.UUID `json:"owner"`
	Collateral string    `json:"collateral"`
	Debt       string    `json:"debt"`
	Stake      string    `json:"stake"`
	Status     string    `json:"status"`
}

func (e *PositionUpdated) EventType() EventType { return EventTypePositionUpdated }

// PositionLiquidated emitted per liquidated position
type PositionLiquidated struct {
	Owner      uuid.UUID `json:"owner"`
	Collateral string    `json:"collateral"`
	Debt       string    `json:"debt"`
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }

// DelegateWhitelisted emitted when a delegate right is granted or revoked
type DelegateWhitelisted struct {
	Owner       uuid.UUID `json:"owner"`
	Delegate    uuid.UUID `json:"delegate"`
	Whitelisted bool      `json:"whitelisted"`
}

func (e *DelegateWhitelisted) EventType() EventType { return EventTypeDelegateWhitelisted }
