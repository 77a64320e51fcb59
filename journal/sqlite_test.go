package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteOpenAndListTrades(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()

	id1, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 0.5, EntryPrice: 30000, Leverage: 2,
		StopLossPrice: 29000, TakeProfitPrice: 32000, EntryOrderID: "o1",
	})
	require.NoError(t, err)
	id2, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t2", Symbol: "ETHUSDT", Side: "SHORT",
		Quantity: 1, EntryPrice: 2000, Leverage: 1, EntryOrderID: "o2",
	})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	open, err := j.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
	assert.Equal(t, StatusOpen, open[0].Status)
	assert.Equal(t, 29000.0, open[0].StopLossPrice)
	assert.Equal(t, "SHORT", open[1].Side)
}

func TestSQLiteCloseTrade(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()

	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 2,
	})
	require.NoError(t, err)

	rec, err := j.CloseTrade(ctx, id, 31000, 1, "TAKE_PROFIT", "x1", 10)
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, rec.Status)
	assert.Equal(t, 31000.0, rec.ExitPrice)
	// (31000-30000)*1*2 minus 10 fees
	assert.InDelta(t, 1990.0, rec.RealizedPnL, 1e-9)
	assert.Equal(t, "TAKE_PROFIT", rec.Reason)
	assert.False(t, rec.ClosedAt.IsZero())

	open, err := j.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLiteCloseTradeShortPnL(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()

	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "ETHUSDT", Side: "SHORT",
		Quantity: 2, EntryPrice: 2000, Leverage: 3,
	})
	require.NoError(t, err)

	rec, err := j.CloseTrade(ctx, id, 1900, 2, "MANUAL", "x1", 0)
	require.NoError(t, err)
	// (1900-2000)*2*3*-1
	assert.InDelta(t, 600.0, rec.RealizedPnL, 1e-9)
}

func TestSQLiteCloseTradeGuards(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()

	_, err := j.CloseTrade(ctx, 42, 1, 1, "MANUAL", "x", 0)
	require.Error(t, err)

	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 1,
	})
	require.NoError(t, err)

	_, err = j.CloseTrade(ctx, id, 31000, 1, "MANUAL", "x1", 0)
	require.NoError(t, err)

	// The second close must fail and must not overwrite the first exit.
	_, err = j.CloseTrade(ctx, id, 35000, 1, "MANUAL", "x2", 0)
	require.Error(t, err)
}

func TestSQLiteUpdateStopAndTakeProfit(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()

	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 1,
	})
	require.NoError(t, err)

	require.NoError(t, j.UpdateStopLoss(ctx, id, 29500))
	require.NoError(t, j.UpdateTakeProfit(ctx, id, 32000))

	open, err := j.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 29500.0, open[0].StopLossPrice)
	assert.Equal(t, 32000.0, open[0].TakeProfitPrice)

	assert.Error(t, j.UpdateStopLoss(ctx, 99, 1), "unknown record")

	_, err = j.CloseTrade(ctx, id, 31000, 1, "MANUAL", "x1", 0)
	require.NoError(t, err)
	assert.Error(t, j.UpdateStopLoss(ctx, id, 28000), "closed record rejects updates")
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.db")
	ctx := context.Background()

	j, err := NewSQLite(path)
	require.NoError(t, err)
	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 1,
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := NewSQLite(path)
	require.NoError(t, err)
	defer j2.Close()

	open, err := j2.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
}

func TestMemoryJournalMirrorsContract(t *testing.T) {
	j := NewMemory()
	ctx := context.Background()

	id, err := j.OpenTrade(ctx, &TradeRecord{
		TraderID: "t1", Symbol: "BTCUSDT", Side: "LONG",
		Quantity: 1, EntryPrice: 30000, Leverage: 2,
	})
	require.NoError(t, err)

	j.FailNextClose(assert.AnError)
	_, err = j.CloseTrade(ctx, id, 31000, 1, "MANUAL", "x1", 0)
	require.Error(t, err)

	rec, ok := j.Trade(id)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, rec.Status, "a failed close writes nothing")

	closed, err := j.CloseTrade(ctx, id, 31000, 1, "MANUAL", "x1", 0)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, closed.RealizedPnL, 1e-9)

	_, err = j.CloseTrade(ctx, id, 31000, 1, "MANUAL", "x2", 0)
	assert.Error(t, err)
}
