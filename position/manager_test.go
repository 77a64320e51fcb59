package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade_exec_go/exchange"
	"trade_exec_go/journal"
	"trade_exec_go/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *exchange.MockConnector, *journal.MemoryJournal) {
	mock := exchange.NewMockConnector()
	jnl := journal.NewMemory()
	return NewManager(mock, jnl), mock, jnl
}

func buySignal() *strategy.Signal {
	return &strategy.Signal{Action: strategy.ActionBuy, Confidence: 1, Reason: "test", Timestamp: time.Now()}
}

func sellSignal() *strategy.Signal {
	return &strategy.Signal{Action: strategy.ActionSell, Confidence: 1, Reason: "test", Timestamp: time.Now()}
}

type fakeGate struct {
	allow bool
	calls int
}

func (g *fakeGate) CanOpenPosition(traderID string, notionalAmount, leverage float64) bool {
	g.calls++
	return g.allow
}

func TestOpenPositionLong(t *testing.T) {
	m, mock, jnl := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 0.5, 3, 29000, 32000)
	require.NoError(t, err)

	assert.Equal(t, SideLong, pos.Side)
	assert.Equal(t, 30000.0, pos.EntryPrice)
	assert.Equal(t, 0.5, pos.Quantity)
	assert.Equal(t, 3.0, pos.Leverage)
	assert.Equal(t, 29000.0, pos.StopLossPrice)
	assert.Equal(t, 32000.0, pos.TakeProfitPrice)
	assert.Equal(t, 1, mock.OrderCount())

	rec, ok := jnl.Trade(pos.TradeID)
	require.True(t, ok)
	assert.Equal(t, journal.StatusOpen, rec.Status)
	assert.Equal(t, "LONG", rec.Side)
	assert.Equal(t, 30000.0, rec.EntryPrice)
}

func TestOpenPositionRejectsHoldSignal(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	sig := &strategy.Signal{Action: strategy.ActionHold}
	_, err := m.OpenPosition(context.Background(), sig, "t1", "BTCUSDT", 1, 1, 0, 0)
	require.ErrorIs(t, err, ErrInvalidSignalAction)
	assert.Zero(t, mock.OrderCount(), "no order may reach the exchange for a HOLD signal")
}

func TestOpenPositionRiskRejectionPlacesNoOrder(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	gate := &fakeGate{allow: false}
	m.AttachRiskGate(gate)

	_, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 5, 0, 0)
	require.ErrorIs(t, err, ErrRiskRejected)
	assert.Equal(t, 1, gate.calls)
	assert.Zero(t, mock.OrderCount(), "rejected open must not place an order")
	assert.Empty(t, m.AllPositions())
}

func TestUnrealizedPnLLong(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 2, 3, 0, 0)
	require.NoError(t, err)

	updated, err := m.UpdatePosition(context.Background(), pos.ID, 31000)
	require.NoError(t, err)
	// (31000 - 30000) * 2 * 3
	assert.InDelta(t, 6000.0, updated.UnrealizedPnL, 1e-9)
}

func TestUnrealizedPnLShort(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("ETHUSDT", 2000)

	pos, err := m.OpenPosition(context.Background(), sellSignal(), "t1", "ETHUSDT", 1, 2, 0, 0)
	require.NoError(t, err)

	updated, err := m.UpdatePosition(context.Background(), pos.ID, 1900)
	require.NoError(t, err)
	// (1900 - 2000) * 1 * 2 * -1
	assert.InDelta(t, 200.0, updated.UnrealizedPnL, 1e-9)

	updated, err = m.UpdatePosition(context.Background(), pos.ID, 2100)
	require.NoError(t, err)
	assert.InDelta(t, -200.0, updated.UnrealizedPnL, 1e-9)
}

func TestClosePositionMovesToHistory(t *testing.T) {
	m, mock, jnl := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 2, 0, 0)
	require.NoError(t, err)

	mock.SetPrice("BTCUSDT", 31000)
	hist, err := m.ClosePosition(context.Background(), pos.ID, ReasonManual)
	require.NoError(t, err)

	assert.Equal(t, 31000.0, hist.ClosePrice)
	assert.InDelta(t, 2000.0, hist.RealizedPnL, 1e-9)
	assert.Equal(t, ReasonManual, hist.Reason)
	assert.Empty(t, m.AllPositions())
	require.Len(t, m.HistoryByTrader("t1"), 1)

	rec, ok := jnl.Trade(pos.TradeID)
	require.True(t, ok)
	assert.Equal(t, journal.StatusClosed, rec.Status)

	// Closing order is reduce-only and on the opposite side.
	orders := mock.PlacedOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, exchange.Sell, orders[1].Side)
	assert.True(t, orders[1].ReduceOnly)
}

func TestClosePositionPersistenceFailureKeepsPositionOpen(t *testing.T) {
	m, mock, jnl := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)

	jnl.FailNextClose(errors.New("disk full"))
	_, err = m.ClosePosition(context.Background(), pos.ID, ReasonManual)
	require.Error(t, err)

	// Position survives the failed persist; the closing order was placed.
	_, tracked := m.Position(pos.ID)
	assert.True(t, tracked)
	assert.Equal(t, 2, mock.OrderCount())
	assert.Empty(t, m.AllHistory())

	// Retry re-runs the whole sequence, including a fresh order.
	hist, err := m.ClosePosition(context.Background(), pos.ID, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, hist.PositionID)
	assert.Equal(t, 3, mock.OrderCount())
	_, tracked = m.Position(pos.ID)
	assert.False(t, tracked)
}

func TestClosePositionUnknownID(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.ClosePosition(context.Background(), "nope", ReasonManual)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestCheckStopLossThresholds(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	long, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 29500, 0)
	require.NoError(t, err)

	hit, err := m.CheckStopLoss(long.ID)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = m.UpdatePosition(context.Background(), long.ID, 29500)
	require.NoError(t, err)
	hit, err = m.CheckStopLoss(long.ID)
	require.NoError(t, err)
	assert.True(t, hit, "long stop triggers at or below the stop price")
}

func TestCheckStopLossUnsetNeverTriggers(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)

	_, err = m.UpdatePosition(context.Background(), pos.ID, 1)
	require.NoError(t, err)
	hit, err := m.CheckStopLoss(pos.ID)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCheckTakeProfitShort(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("ETHUSDT", 2000)

	pos, err := m.OpenPosition(context.Background(), sellSignal(), "t1", "ETHUSDT", 1, 1, 0, 1900)
	require.NoError(t, err)

	_, err = m.UpdatePosition(context.Background(), pos.ID, 1899)
	require.NoError(t, err)
	hit, err := m.CheckTakeProfit(pos.ID)
	require.NoError(t, err)
	assert.True(t, hit, "short take-profit triggers at or below the target")
}

func TestTrailingStopRatchetLong(t *testing.T) {
	m, mock, jnl := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)

	// Activation anchors a 500 distance to the current 30000 price.
	require.NoError(t, m.UpdateStopLoss(context.Background(), pos.ID, 29500, true))

	got, _ := m.Position(pos.ID)
	assert.True(t, got.TrailingActivated)
	assert.Equal(t, 500.0, got.TrailingDistance)
	assert.Equal(t, 30000.0, got.TrailingRefPrice)

	// Favorable move ratchets the stop up.
	updated, err := m.UpdatePosition(context.Background(), pos.ID, 30400)
	require.NoError(t, err)
	assert.Equal(t, 29900.0, updated.StopLossPrice)
	assert.Equal(t, 30400.0, updated.TrailingRefPrice)

	// Adverse move never loosens it.
	updated, err = m.UpdatePosition(context.Background(), pos.ID, 30100)
	require.NoError(t, err)
	assert.Equal(t, 29900.0, updated.StopLossPrice)
	assert.Equal(t, 30400.0, updated.TrailingRefPrice)

	// Next favorable move ratchets again, and the journal follows.
	updated, err = m.UpdatePosition(context.Background(), pos.ID, 30600)
	require.NoError(t, err)
	assert.Equal(t, 30100.0, updated.StopLossPrice)

	rec, ok := jnl.Trade(pos.TradeID)
	require.True(t, ok)
	assert.Equal(t, 30100.0, rec.StopLossPrice)
}

func TestTrailingStopRatchetShort(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("ETHUSDT", 2000)

	pos, err := m.OpenPosition(context.Background(), sellSignal(), "t1", "ETHUSDT", 1, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStopLoss(context.Background(), pos.ID, 2050, true))

	updated, err := m.UpdatePosition(context.Background(), pos.ID, 1950)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, updated.StopLossPrice)

	updated, err = m.UpdatePosition(context.Background(), pos.ID, 1990)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, updated.StopLossPrice, "adverse move must not move the short stop")
}

func TestNonTrailingUpdateDeactivatesTrail(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, m.UpdateStopLoss(context.Background(), pos.ID, 29500, true))
	require.NoError(t, m.UpdateStopLoss(context.Background(), pos.ID, 29000, false))

	got, _ := m.Position(pos.ID)
	assert.False(t, got.TrailingActivated)
	assert.Equal(t, 29000.0, got.StopLossPrice)

	// With the trail off, a favorable move leaves the stop fixed.
	updated, err := m.UpdatePosition(context.Background(), pos.ID, 31000)
	require.NoError(t, err)
	assert.Equal(t, 29000.0, updated.StopLossPrice)
}

func TestRecoverPositions(t *testing.T) {
	mock := exchange.NewMockConnector()
	jnl := journal.NewMemory()

	_, err := jnl.OpenTrade(context.Background(), &journal.TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 0.5, EntryPrice: 30000, Leverage: 2,
		StopLossPrice: 29000, TakeProfitPrice: 32000,
	})
	require.NoError(t, err)
	closedID, err := jnl.OpenTrade(context.Background(), &journal.TradeRecord{
		TraderID: "t1", Symbol: "ETHUSDT", Side: "SHORT",
		Quantity: 1, EntryPrice: 2000, Leverage: 1,
	})
	require.NoError(t, err)
	_, err = jnl.CloseTrade(context.Background(), closedID, 1900, 1, ReasonManual, "x1", 0)
	require.NoError(t, err)

	mock.SetPrice("BTCUSDT", 30500)

	m := NewManager(mock, jnl)
	require.NoError(t, m.RecoverPositions(context.Background()))

	positions := m.PositionsByTrader("t1")
	require.Len(t, positions, 1, "closed records must not be recovered")
	got := positions[0]
	assert.Equal(t, SideLong, got.Side)
	assert.Equal(t, 30000.0, got.EntryPrice)
	assert.Equal(t, 30500.0, got.CurrentPrice)
	assert.Equal(t, 29000.0, got.StopLossPrice)
	assert.Equal(t, 32000.0, got.TakeProfitPrice)
	assert.InDelta(t, 500.0, got.UnrealizedPnL, 1e-9)

	// Repeated recovery attaches nothing twice.
	require.NoError(t, m.RecoverPositions(context.Background()))
	assert.Len(t, m.PositionsByTrader("t1"), 1)
}

func TestRecoverPositionsTickerFailureUsesEntryPrice(t *testing.T) {
	mock := exchange.NewMockConnector()
	jnl := journal.NewMemory()

	_, err := jnl.OpenTrade(context.Background(), &journal.TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 1,
	})
	require.NoError(t, err)

	mock.FailNextTicker(errors.New("exchange down"))

	m := NewManager(mock, jnl)
	require.NoError(t, m.RecoverPositions(context.Background()))

	positions := m.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, 30000.0, positions[0].CurrentPrice)
	assert.Zero(t, positions[0].UnrealizedPnL)
}

func TestRefreshPositionReconcilesWithExchange(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 2, 0, 0)
	require.NoError(t, err)

	mock.SetPosition("BTCUSDT", &exchange.Position{
		Symbol: "BTCUSDT", Quantity: 0.8, EntryPrice: 30100, Leverage: 2,
	})
	mock.SetPrice("BTCUSDT", 30600)

	require.NoError(t, m.RefreshPosition(context.Background(), pos.ID))

	got, _ := m.Position(pos.ID)
	assert.Equal(t, 0.8, got.Quantity)
	assert.Equal(t, 30100.0, got.EntryPrice)
	assert.Equal(t, 30600.0, got.CurrentPrice)
	assert.InDelta(t, (30600.0-30100.0)*0.8*2, got.UnrealizedPnL, 1e-9)
}

func TestTotalPnLAndWinRate(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	win, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)
	mock.SetPrice("BTCUSDT", 31000)
	_, err = m.ClosePosition(context.Background(), win.ID, ReasonManual)
	require.NoError(t, err)

	mock.SetPrice("BTCUSDT", 31000)
	loss, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)
	mock.SetPrice("BTCUSDT", 30500)
	_, err = m.ClosePosition(context.Background(), loss.ID, ReasonManual)
	require.NoError(t, err)

	mock.SetPrice("BTCUSDT", 30000)
	open, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)
	_, err = m.UpdatePosition(context.Background(), open.ID, 30200)
	require.NoError(t, err)

	// +1000 realized, -500 realized, +200 unrealized.
	assert.InDelta(t, 700.0, m.TotalPnL(), 1e-9)
	assert.InDelta(t, 0.5, m.WinRate(), 1e-9)
}

func TestWinRateEmptyHistory(t *testing.T) {
	m, _, _ := newTestManager()
	assert.Zero(t, m.WinRate())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	m, mock, _ := newTestManager()
	mock.SetPrice("BTCUSDT", 30000)

	pos, err := m.OpenPosition(context.Background(), buySignal(), "t1", "BTCUSDT", 1, 1, 0, 0)
	require.NoError(t, err)

	// Mutating a returned snapshot must not leak into tracked state.
	pos.StopLossPrice = 12345
	got, _ := m.Position(pos.ID)
	assert.Zero(t, got.StopLossPrice)
}
