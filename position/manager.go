// position/manager.go
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"trade_exec_go/exchange"
	"trade_exec_go/journal"
	"trade_exec_go/logs"
	"trade_exec_go/metrics"
	"trade_exec_go/strategy"

	"github.com/google/uuid"
)

// RiskGate is the pre-trade approval surface the manager consults before
// placing any opening order. Defined here (not in the risk package) so the
// two packages stay decoupled; the risk manager satisfies it.
type RiskGate interface {
	CanOpenPosition(traderID string, notionalAmount, leverage float64) bool
}

// Manager owns the in-memory set of open positions. Lifecycle operations and
// the periodic monitor share one mutex; tracked positions are replaced as
// whole snapshots so readers never observe a half-updated struct.
type Manager struct {
	mu        sync.RWMutex
	connector exchange.Connector
	journal   journal.Journal
	riskGate  RiskGate

	positions map[string]*ManagedPosition
	byTrader  map[string][]string
	history   []History

	monitorMu      sync.Mutex
	monitorStop    chan struct{}
	monitorWG      sync.WaitGroup
	monitorRunning bool
}

// NewManager creates a position manager over a connector and a trade journal.
func NewManager(connector exchange.Connector, jnl journal.Journal) *Manager {
	return &Manager{
		connector: connector,
		journal:   jnl,
		positions: make(map[string]*ManagedPosition),
		byTrader:  make(map[string][]string),
	}
}

// AttachRiskGate wires the pre-trade approval check. Without a gate every
// open is approved.
func (m *Manager) AttachRiskGate(gate RiskGate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskGate = gate
}

// OpenPosition turns a BUY/SELL signal into an exchange order and a tracked
// position. A risk rejection happens before any order is placed. stopLoss and
// takeProfit of 0 leave the thresholds unset.
func (m *Manager) OpenPosition(ctx context.Context, sig *strategy.Signal, traderID, symbol string, quantity, leverage, stopLoss, takeProfit float64) (*ManagedPosition, error) {
	var side Side
	switch sig.Action {
	case strategy.ActionBuy:
		side = SideLong
	case strategy.ActionSell:
		side = SideShort
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignalAction, sig.Action)
	}

	if quantity <= 0 {
		return nil, fmt.Errorf("position quantity must be positive, got %f", quantity)
	}
	if leverage < 1 {
		leverage = 1
	}

	ticker, err := m.connector.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}

	notional := ticker.Price * quantity * leverage
	m.mu.RLock()
	gate := m.riskGate
	m.mu.RUnlock()
	if gate != nil && !gate.CanOpenPosition(traderID, notional, leverage) {
		return nil, fmt.Errorf("%w: trader %s, notional %.2f, leverage %.1fx", ErrRiskRejected, traderID, notional, leverage)
	}

	orderSide := exchange.Buy
	if side == SideShort {
		orderSide = exchange.Sell
	}
	order, err := m.connector.PlaceOrder(ctx, &exchange.OrderRequest{
		Symbol:        symbol,
		Side:          orderSide,
		Type:          exchange.Market,
		Quantity:      quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place opening order for %s: %w", symbol, err)
	}

	entryPrice := order.Price
	if entryPrice <= 0 {
		entryPrice = ticker.Price
	}

	now := time.Now()
	tradeID, err := m.journal.OpenTrade(ctx, &journal.TradeRecord{
		TraderID:        traderID,
		Symbol:          symbol,
		Side:            string(side),
		Quantity:        quantity,
		EntryPrice:      entryPrice,
		Leverage:        leverage,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		EntryOrderID:    order.OrderID,
		OpenedAt:        now.UTC(),
	})
	if err != nil {
		// The opening order is already on the exchange at this point; the
		// operator has to reconcile manually.
		logs.Errorf("[Position] Opening order %s for %s filled but trade record was not persisted: %v", order.OrderID, symbol, err)
		return nil, fmt.Errorf("failed to persist trade record for %s: %w", symbol, err)
	}

	pos := &ManagedPosition{
		ID:              uuid.NewString(),
		TraderID:        traderID,
		Symbol:          symbol,
		Side:            side,
		Quantity:        quantity,
		EntryPrice:      entryPrice,
		CurrentPrice:    entryPrice,
		Leverage:        leverage,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		TradeID:         tradeID,
		OpenedAt:        now,
		LastUpdated:     now,
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.byTrader[traderID] = append(m.byTrader[traderID], pos.ID)
	open := len(m.positions)
	m.mu.Unlock()

	metrics.RecordPositionOpened(symbol, string(side))
	metrics.SetOpenPositions(open)
	logs.Infof("[Position] Opened %s %s for trader %s: qty %.6f @ %.4f (%.1fx), id %s",
		side, symbol, traderID, quantity, entryPrice, leverage, pos.ID)

	snapshot := *pos
	return &snapshot, nil
}

// UpdatePosition refreshes the current price (fetched from the connector when
// newPrice is 0), recomputes unrealized P&L, and applies the trailing-stop
// ratchet. The tracked snapshot is swapped atomically.
func (m *Manager) UpdatePosition(ctx context.Context, positionID string, newPrice float64) (*ManagedPosition, error) {
	m.mu.RLock()
	pos, ok := m.positions[positionID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	symbol := pos.Symbol
	m.mu.RUnlock()

	if newPrice <= 0 {
		ticker, err := m.connector.GetTicker(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
		}
		newPrice = ticker.Price
	}

	var persistStop float64
	var tradeID int64

	m.mu.Lock()
	pos, ok = m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	cp := *pos
	cp.CurrentPrice = newPrice
	cp.UnrealizedPnL = CalculatePnL(cp.Side, cp.EntryPrice, newPrice, cp.Quantity, cp.Leverage)

	if cp.TrailingActivated {
		improved := (cp.Side == SideLong && newPrice > cp.TrailingRefPrice) ||
			(cp.Side == SideShort && newPrice < cp.TrailingRefPrice)
		if improved {
			cp.TrailingRefPrice = newPrice
			if cp.Side == SideLong {
				cp.StopLossPrice = newPrice - cp.TrailingDistance
			} else {
				cp.StopLossPrice = newPrice + cp.TrailingDistance
			}
			persistStop = cp.StopLossPrice
			tradeID = cp.TradeID
		}
	}

	cp.LastUpdated = time.Now()
	m.positions[positionID] = &cp
	m.mu.Unlock()

	if persistStop > 0 {
		if err := m.journal.UpdateStopLoss(ctx, tradeID, persistStop); err != nil {
			logs.Warnf("[Position] Failed to persist ratcheted stop %.4f for position %s: %v", persistStop, positionID, err)
		}
	}

	snapshot := cp
	return &snapshot, nil
}

// ClosePosition places a closing order, persists the exit, and moves the
// position to history. When persistence fails the position stays in the
// active set untouched and the whole sequence (including a fresh closing
// order) re-runs on retry: the close path is at-least-once by contract.
func (m *Manager) ClosePosition(ctx context.Context, positionID, reason string) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	orderSide := exchange.Sell
	if pos.Side == SideShort {
		orderSide = exchange.Buy
	}
	order, err := m.connector.PlaceOrder(ctx, &exchange.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          orderSide,
		Type:          exchange.Market,
		Quantity:      pos.Quantity,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place closing order for position %s: %w", positionID, err)
	}

	exitPrice := order.Price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}

	rec, err := m.journal.CloseTrade(ctx, pos.TradeID, exitPrice, pos.Quantity, reason, order.OrderID, 0)
	if err != nil {
		// No record was written; the position stays open so the caller can
		// retry. The closing order above may already have hit the exchange.
		return nil, fmt.Errorf("failed to persist close of position %s (closing order %s was placed): %w", positionID, order.OrderID, err)
	}

	delete(m.positions, positionID)
	m.byTrader[pos.TraderID] = removeID(m.byTrader[pos.TraderID], positionID)

	hist := History{
		PositionID:  pos.ID,
		TraderID:    pos.TraderID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ClosePrice:  exitPrice,
		RealizedPnL: rec.RealizedPnL,
		Reason:      reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    rec.ClosedAt,
		Duration:    rec.ClosedAt.Sub(pos.OpenedAt.UTC()),
	}
	m.history = append(m.history, hist)

	metrics.RecordPositionClosed(pos.Symbol, reason)
	metrics.SetOpenPositions(len(m.positions))
	logs.Infof("[Position] Closed %s %s for trader %s @ %.4f, reason %s, realized P&L %.4f",
		pos.Side, pos.Symbol, pos.TraderID, exitPrice, reason, rec.RealizedPnL)

	return &hist, nil
}

// CheckStopLoss reports whether the position's stored price has crossed its
// stop-loss threshold. Pure predicate, no side effects.
func (m *Manager) CheckStopLoss(positionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.StopLossPrice <= 0 {
		return false, nil
	}
	if pos.Side == SideLong {
		return pos.CurrentPrice <= pos.StopLossPrice, nil
	}
	return pos.CurrentPrice >= pos.StopLossPrice, nil
}

// CheckTakeProfit reports whether the position's stored price has crossed its
// take-profit threshold. Pure predicate, no side effects.
func (m *Manager) CheckTakeProfit(positionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.TakeProfitPrice <= 0 {
		return false, nil
	}
	if pos.Side == SideLong {
		return pos.CurrentPrice >= pos.TakeProfitPrice, nil
	}
	return pos.CurrentPrice <= pos.TakeProfitPrice, nil
}

// UpdateStopLoss sets a new stop-loss price and persists it. With trailing
// activation the distance is anchored to the current price:
// distance = |currentPrice − price|, reference = currentPrice. From then on
// the ratchet in UpdatePosition only ever tightens the stop. A non-trailing
// update deactivates any active trail.
func (m *Manager) UpdateStopLoss(ctx context.Context, positionID string, price float64, trailing bool) error {
	m.mu.Lock()
	pos, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	cp := *pos
	cp.StopLossPrice = price
	if trailing {
		if !cp.TrailingActivated {
			cp.TrailingActivated = true
			cp.TrailingDistance = math.Abs(cp.CurrentPrice - price)
			cp.TrailingRefPrice = cp.CurrentPrice
		}
	} else {
		cp.TrailingActivated = false
		cp.TrailingDistance = 0
		cp.TrailingRefPrice = 0
	}
	cp.LastUpdated = time.Now()
	m.positions[positionID] = &cp
	tradeID := cp.TradeID
	m.mu.Unlock()

	if err := m.journal.UpdateStopLoss(ctx, tradeID, price); err != nil {
		return fmt.Errorf("failed to persist stop-loss for position %s: %w", positionID, err)
	}
	return nil
}

// UpdateTakeProfit sets a new take-profit price and persists it.
func (m *Manager) UpdateTakeProfit(ctx context.Context, positionID string, price float64) error {
	m.mu.Lock()
	pos, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	cp := *pos
	cp.TakeProfitPrice = price
	cp.LastUpdated = time.Now()
	m.positions[positionID] = &cp
	tradeID := cp.TradeID
	m.mu.Unlock()

	if err := m.journal.UpdateTakeProfit(ctx, tradeID, price); err != nil {
		return fmt.Errorf("failed to persist take-profit for position %s: %w", positionID, err)
	}
	return nil
}

// RefreshPosition reconciles local state against the exchange's authoritative
// position and ticker, for recovery after a crash or a manual exchange-side
// action.
func (m *Manager) RefreshPosition(ctx context.Context, positionID string) error {
	m.mu.RLock()
	pos, ok := m.positions[positionID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	symbol := pos.Symbol
	m.mu.RUnlock()

	exchPos, err := m.connector.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch exchange position for %s: %w", symbol, err)
	}
	ticker, err := m.connector.GetTicker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}

	m.mu.Lock()
	pos, ok = m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	cp := *pos
	if exchPos != nil {
		cp.Quantity = math.Abs(exchPos.Quantity)
		if exchPos.EntryPrice > 0 {
			cp.EntryPrice = exchPos.EntryPrice
		}
	} else {
		logs.Warnf("[Position] Exchange reports no %s position while %s is tracked locally; keeping local quantities.", symbol, positionID)
	}
	cp.CurrentPrice = ticker.Price
	cp.UnrealizedPnL = CalculatePnL(cp.Side, cp.EntryPrice, cp.CurrentPrice, cp.Quantity, cp.Leverage)
	cp.LastUpdated = time.Now()
	m.positions[positionID] = &cp
	m.mu.Unlock()

	return nil
}

// RecoverPositions rebuilds the active set from persisted OPEN trade records.
// Records already tracked are skipped, so repeated calls are safe; a symbol
// whose exchange data cannot be fetched is recovered from the record alone.
func (m *Manager) RecoverPositions(ctx context.Context) error {
	records, err := m.journal.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open trade records: %w", err)
	}

	recovered := 0
	for i := range records {
		rec := records[i]
		if m.trackingTrade(rec.ID) {
			continue
		}

		currentPrice := rec.EntryPrice
		if ticker, err := m.connector.GetTicker(ctx, rec.Symbol); err != nil {
			logs.Warnf("[Position] Recovery: no ticker for %s (trade %d), using entry price: %v", rec.Symbol, rec.ID, err)
		} else {
			currentPrice = ticker.Price
		}

		now := time.Now()
		pos := &ManagedPosition{
			ID:              uuid.NewString(),
			TraderID:        rec.TraderID,
			Symbol:          rec.Symbol,
			Side:            Side(rec.Side),
			Quantity:        rec.Quantity,
			EntryPrice:      rec.EntryPrice,
			CurrentPrice:    currentPrice,
			Leverage:        rec.Leverage,
			StopLossPrice:   rec.StopLossPrice,
			TakeProfitPrice: rec.TakeProfitPrice,
			TradeID:         rec.ID,
			OpenedAt:        rec.OpenedAt,
			LastUpdated:     now,
		}
		pos.UnrealizedPnL = CalculatePnL(pos.Side, pos.EntryPrice, pos.CurrentPrice, pos.Quantity, pos.Leverage)

		m.mu.Lock()
		m.positions[pos.ID] = pos
		m.byTrader[pos.TraderID] = append(m.byTrader[pos.TraderID], pos.ID)
		m.mu.Unlock()
		recovered++
	}

	m.mu.RLock()
	open := len(m.positions)
	m.mu.RUnlock()
	metrics.SetOpenPositions(open)

	logs.Infof("[Position] Recovery complete: %d of %d open trade records re-attached.", recovered, len(records))
	return nil
}

func (m *Manager) trackingTrade(tradeID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pos := range m.positions {
		if pos.TradeID == tradeID {
			return true
		}
	}
	return false
}

// Position returns a snapshot of one active position.
func (m *Manager) Position(positionID string) (*ManagedPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, false
	}
	snapshot := *pos
	return &snapshot, true
}

// AllPositions returns snapshots of every active position.
func (m *Manager) AllPositions() []*ManagedPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ManagedPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out
}

// PositionsByTrader returns snapshots of a trader's active positions.
func (m *Manager) PositionsByTrader(traderID string) []*ManagedPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byTrader[traderID]
	out := make([]*ManagedPosition, 0, len(ids))
	for _, id := range ids {
		if pos, ok := m.positions[id]; ok {
			snapshot := *pos
			out = append(out, &snapshot)
		}
	}
	return out
}

// HistoryByTrader returns the closed-position history for a trader.
func (m *Manager) HistoryByTrader(traderID string) []History {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []History
	for _, h := range m.history {
		if h.TraderID == traderID {
			out = append(out, h)
		}
	}
	return out
}

// AllHistory returns every closed-position record.
func (m *Manager) AllHistory() []History {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]History, len(m.history))
	copy(out, m.history)
	return out
}

// TotalPnL returns realized P&L across all history plus unrealized P&L of
// every open position.
func (m *Manager) TotalPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for _, h := range m.history {
		total += h.RealizedPnL
	}
	for _, pos := range m.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// WinRate returns the fraction of closed positions with positive realized
// P&L, or 0 with no history.
func (m *Manager) WinRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return 0
	}
	wins := 0
	for _, h := range m.history {
		if h.RealizedPnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(m.history))
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
