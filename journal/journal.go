// journal/journal.go
package journal

import (
	"context"
	"time"
)

// TradeStatus is the lifecycle state of a persisted trade record.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// TradeRecord is the durable record of a single trade, from entry to exit.
// ID is assigned by the journal on OpenTrade.
type TradeRecord struct {
	ID              int64
	TraderID        string
	Symbol          string
	Side            string // LONG or SHORT
	Quantity        float64
	EntryPrice      float64
	Leverage        float64
	StopLossPrice   float64
	TakeProfitPrice float64
	EntryOrderID    string
	ExitOrderID     string
	ExitPrice       float64
	ExitQuantity    float64
	Fees            float64
	RealizedPnL     float64
	Reason          string
	Status          TradeStatus
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// Journal is the persistence contract for trade records. A failed CloseTrade
// writes nothing: callers rely on that to keep the in-memory position alive
// for a retry.
type Journal interface {
	// OpenTrade persists a new OPEN record and returns its id.
	OpenTrade(ctx context.Context, t *TradeRecord) (int64, error)

	// CloseTrade marks an OPEN record CLOSED, filling in the exit side and the
	// realized P&L, and returns the closed record. Returns an error and writes
	// nothing when the record is missing or already closed.
	CloseTrade(ctx context.Context, tradeID int64, exitPrice, exitQuantity float64, reason, exitOrderID string, fees float64) (*TradeRecord, error)

	// UpdateStopLoss persists a stop-loss price change for an open record.
	UpdateStopLoss(ctx context.Context, tradeID int64, price float64) error

	// UpdateTakeProfit persists a take-profit price change for an open record.
	UpdateTakeProfit(ctx context.Context, tradeID int64, price float64) error

	// OpenTrades returns every record still in OPEN status.
	OpenTrades(ctx context.Context) ([]TradeRecord, error)

	Close() error
}

// realizedPnL computes the realized P&L for a record closed at exitPrice.
func realizedPnL(t *TradeRecord, exitPrice, exitQuantity float64) float64 {
	direction := 1.0
	if t.Side == "SHORT" {
		direction = -1.0
	}
	return (exitPrice - t.EntryPrice) * exitQuantity * t.Leverage * direction
}
