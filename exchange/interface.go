package exchange

import (
	"context"
	"time"
)

// OrderSide defines the order direction (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType defines the order type.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus defines the order status.
type OrderStatus string

const (
	New      OrderStatus = "NEW"
	Filled   OrderStatus = "FILLED"
	Canceled OrderStatus = "CANCELED"
	Rejected OrderStatus = "REJECTED"
)

// Ticker is a point-in-time price snapshot for a symbol.
type Ticker struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// OrderRequest describes an order to be submitted to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64 // Only for LIMIT orders.
	ReduceOnly    bool
	ClientOrderID string
}

// Order is the exchange's view of a submitted order.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         float64 // Average fill price for filled orders.
	Quantity      float64
	Status        OrderStatus
	UpdateTime    time.Time
}

// Position is the exchange-reported position for a symbol. Quantity is signed:
// positive for long, negative for short. A flat symbol yields a nil Position
// from GetPosition, not an error.
type Position struct {
	Symbol           string
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	Leverage         float64
	UnrealizedProfit float64
}

// Connector is the narrow per-exchange contract the execution core depends on.
// Implementations are stateless from the core's perspective.
type Connector interface {
	// GetTicker returns the latest price snapshot for a symbol.
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// PlaceOrder submits an order and returns the resulting exchange order.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)

	// GetPosition returns the exchange-reported position for a symbol, or
	// nil if the symbol is flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)
}
