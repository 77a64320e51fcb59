package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

//
// In-memory connector for running and testing the execution core without a
// real exchange. Every order fills immediately at the current mock price.
//

// Ensure MockConnector implements the Connector interface.
var _ Connector = (*MockConnector)(nil)

// MockConnector simulates the exchange surface the core depends on. Prices can
// be set directly or scripted as a queue consumed one tick per GetTicker call,
// and single-shot failures can be injected on any of the three operations.
type MockConnector struct {
	mu          sync.Mutex
	prices      map[string]float64
	priceQueue  map[string][]float64
	positions   map[string]*Position
	placed      []OrderRequest
	nextOrderID int64

	tickerErr error
	orderErr  error

	simStop chan struct{}
	simTime float64
}

// NewMockConnector creates an empty mock connector.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		prices:      make(map[string]float64),
		priceQueue:  make(map[string][]float64),
		positions:   make(map[string]*Position),
		nextOrderID: 1,
	}
}

// StartSimulation drives the symbol's price along a sine wave around
// initialPrice so simulation runs see movement without a real feed.
func (c *MockConnector) StartSimulation(symbol string, initialPrice, amplitude float64, step time.Duration) {
	c.mu.Lock()
	if c.simStop != nil {
		c.mu.Unlock()
		return
	}
	c.prices[symbol] = initialPrice
	c.simStop = make(chan struct{})
	stop := c.simStop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.simTime += 0.05
				c.prices[symbol] = initialPrice + amplitude*math.Sin(c.simTime)
				c.mu.Unlock()
			}
		}
	}()
}

// StopSimulation stops the price simulator goroutine.
func (c *MockConnector) StopSimulation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.simStop != nil {
		close(c.simStop)
		c.simStop = nil
	}
}

// SetPrice sets the current price for a symbol.
func (c *MockConnector) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// QueuePrices scripts a sequence of prices for a symbol. Each GetTicker call
// consumes one entry; when the queue drains, the last consumed price sticks.
func (c *MockConnector) QueuePrices(symbol string, prices ...float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceQueue[symbol] = append(c.priceQueue[symbol], prices...)
}

// SetPosition sets the exchange-reported position for a symbol. A nil position
// marks the symbol flat.
func (c *MockConnector) SetPosition(symbol string, pos *Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos == nil {
		delete(c.positions, symbol)
		return
	}
	c.positions[symbol] = pos
}

// FailNextTicker makes the next GetTicker call return err.
func (c *MockConnector) FailNextTicker(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickerErr = err
}

// FailNextOrder makes the next PlaceOrder call return err.
func (c *MockConnector) FailNextOrder(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderErr = err
}

// PlacedOrders returns a copy of every order request the mock has accepted.
func (c *MockConnector) PlacedOrders() []OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OrderRequest, len(c.placed))
	copy(out, c.placed)
	return out
}

// OrderCount returns how many orders the mock has accepted.
func (c *MockConnector) OrderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.placed)
}

// GetTicker returns the current or next scripted price for a symbol.
func (c *MockConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tickerErr != nil {
		err := c.tickerErr
		c.tickerErr = nil
		return nil, err
	}

	if queue := c.priceQueue[symbol]; len(queue) > 0 {
		c.prices[symbol] = queue[0]
		c.priceQueue[symbol] = queue[1:]
	}

	price, ok := c.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock connector: no price set for symbol %s", symbol)
	}
	return &Ticker{Symbol: symbol, Price: price, Time: time.Now()}, nil
}

// PlaceOrder accepts an order and fills it immediately at the current price.
func (c *MockConnector) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.orderErr != nil {
		err := c.orderErr
		c.orderErr = nil
		return nil, err
	}

	fillPrice := req.Price
	if req.Type == Market {
		fillPrice = c.prices[req.Symbol]
	}
	if fillPrice <= 0 {
		return nil, fmt.Errorf("mock connector: no price available to fill %s order for %s", req.Type, req.Symbol)
	}

	c.placed = append(c.placed, *req)

	order := &Order{
		OrderID:       strconv.FormatInt(c.nextOrderID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         fillPrice,
		Quantity:      req.Quantity,
		Status:        Filled,
		UpdateTime:    time.Now(),
	}
	c.nextOrderID++
	return order, nil
}

// GetPosition returns the configured position for a symbol, or nil when flat.
func (c *MockConnector) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}
