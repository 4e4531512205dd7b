// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// TokenDetected fires for every decoded candidate, pass or fail.
	TokenDetected EventType = "token.detected"

	// PositionOpened fires after a confirmed buy.
	PositionOpened EventType = "position.opened"

	// PositionClosed fires after a confirmed sell.
	PositionClosed EventType = "position.closed"

	// TradeExecuted fires for every confirmed swap, buy or sell.
	TradeExecuted EventType = "trade.executed"

	// ConnectionStatus fires on every supervisor state transition.
	ConnectionStatus EventType = "connection.status"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps a base event with the current time.
func NewBase(typ EventType) BaseEvent {
	return BaseEvent{EventType: typ, EventTime: time.Now()}
}

// TokenDetectedEvent is emitted when a candidate token has been decoded
// and screened, whatever the verdict.
type TokenDetectedEvent struct {
	BaseEvent
	Signature  string
	TokenMint  string
	PairedMint string
	PoolKey    string
	Passed     bool
	RiskScore  int
	Reasons    []string
}

// PositionOpenedEvent is emitted after a buy confirms and the position
// enters tracking.
type PositionOpenedEvent struct {
	BaseEvent
	PositionID  string
	TokenMint   string
	EntryPrice  float64
	Size        uint64
	TxSignature string
}

// PositionClosedEvent is emitted after a sell confirms and the position
// leaves the active set.
type PositionClosedEvent struct {
	BaseEvent
	PositionID  string
	TokenMint   string
	EntryPrice  float64
	ExitPrice   float64
	PnLPercent  float64
	Reason      string // "take_profit", "stop_loss" or "manual"
	TxSignature string
}

// TradeExecutedEvent is emitted for every confirmed swap.
type TradeExecutedEvent struct {
	BaseEvent
	Side        string // "buy" or "sell"
	TokenMint   string
	InAmount    uint64
	OutAmount   uint64
	TxSignature string
}

// ConnectionStatusEvent is emitted when the connection supervisor
// changes state.
type ConnectionStatusEvent struct {
	BaseEvent
	State   string
	Attempt int
	Detail  string
}
