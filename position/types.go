// position/types.go
package position

import (
	"errors"
	"math"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Close reasons recorded on history entries and trade records.
const (
	ReasonStopLoss      = "STOP_LOSS"
	ReasonTakeProfit    = "TAKE_PROFIT"
	ReasonManual        = "MANUAL"
	ReasonSignal        = "SIGNAL"
	ReasonEmergencyStop = "EMERGENCY_STOP"
)

var (
	// ErrPositionNotFound is returned when a position id is not in the active set.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidSignalAction is returned when a signal's action cannot open a position.
	ErrInvalidSignalAction = errors.New("signal action cannot open a position")

	// ErrRiskRejected is returned when the attached risk gate denies an open.
	ErrRiskRejected = errors.New("open rejected by risk manager")
)

// ManagedPosition is an open exchange position augmented with the stop-loss,
// take-profit and trailing metadata the monitor evaluates. Stop and take
// prices of 0 mean unset. Instances handed out by the manager are snapshots;
// the tracked copy is replaced wholesale on every update.
type ManagedPosition struct {
	ID              string
	TraderID        string
	Symbol          string
	Side            Side
	Quantity        float64
	EntryPrice      float64
	CurrentPrice    float64
	Leverage        float64
	UnrealizedPnL   float64
	StopLossPrice   float64
	TakeProfitPrice float64

	// Trailing-stop state. While activated, TrailingRefPrice tracks the most
	// favorable price seen and StopLossPrice stays exactly TrailingDistance
	// away from it.
	TrailingActivated bool
	TrailingDistance  float64
	TrailingRefPrice  float64

	TradeID     int64 // linked journal record
	OpenedAt    time.Time
	LastUpdated time.Time
}

// Notional returns the risk-equivalent size of the position at its current price.
func (p *ManagedPosition) Notional() float64 {
	return math.Abs(p.Quantity * p.CurrentPrice * p.Leverage)
}

// History is the immutable record of a closed position.
type History struct {
	PositionID  string
	TraderID    string
	Symbol      string
	Side        Side
	Quantity    float64
	EntryPrice  float64
	ClosePrice  float64
	RealizedPnL float64
	Reason      string
	OpenedAt    time.Time
	ClosedAt    time.Time
	Duration    time.Duration
}

// CalculatePnL computes position P&L: (current − entry) × quantity × leverage,
// negated for shorts.
func CalculatePnL(side Side, entryPrice, currentPrice, quantity, leverage float64) float64 {
	direction := 1.0
	if side == SideShort {
		direction = -1.0
	}
	return (currentPrice - entryPrice) * quantity * leverage * direction
}
