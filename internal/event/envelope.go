package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionCreated
	EventTypePositionUpdated
	EventTypePositionLiquidated
	EventTypeLiquidation
	EventTypeRedemption
	EventTypeTotalStakesUpdated
	EventTypeSystemSnapshotsUpdated
	EventTypeLTermsUpdated
	EventTypeBaseRateUpdated
	EventTypeBorrowingSpreadUpdated
	EventTypeLiquidationProtocolFeeChanged
	EventTypeDelegateWhitelisted
	EventTypeCollateralFunded
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the originating command
	IdempotencyKey string

	// Kind of the originating command, used for dedup lookups
	CommandKind string

	// Event type discriminator
	EventType EventType

	// Input timestamp assigned by the core clock
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionCreated:
		return "PositionCreated"
	case EventTypePositionUpdated:
		return "PositionUpdated"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeLiquidation:
		return "Liquidation"
	case EventTypeRedemption:
		return "Redemption"
	case EventTypeTotalStakesUpdated:
		return "TotalStakesUpdated"
	case EventTypeSystemSnapshotsUpdated:
		return "SystemSnapshotsUpdated"
	case EventTypeLTermsUpdated:
		return "LTermsUpdated"
	case EventTypeBaseRateUpdated:
		return "BaseRateUpdated"
	case EventTypeBorrowingSpreadUpdated:
		return "BorrowingSpreadUpdated"
	case EventTypeLiquidationProtocolFeeChanged:
		return "LiquidationProtocolFeeChanged"
	case EventTypeDelegateWhitelisted:
		return "DelegateWhitelisted"
	case EventTypeCollateralFunded:
		return "CollateralFunded"
	default:
		return "Unknown"
	}
}
