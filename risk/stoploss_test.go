package risk

import (
	"testing"
	"time"

	"trade_exec_go/position"

	"github.com/stretchr/testify/assert"
)

type staticHistory struct {
	records map[string][]position.History
}

func (s *staticHistory) HistoryByTrader(traderID string) []position.History {
	return s.records[traderID]
}

func TestDailyLossCurrentDayOnly(t *testing.T) {
	now := time.Now().UTC()
	s := NewStopLossManager(1000, &staticHistory{records: map[string][]position.History{
		"a": {
			{TraderID: "a", RealizedPnL: -400, ClosedAt: now},
			{TraderID: "a", RealizedPnL: -300, ClosedAt: now.Add(-time.Minute)},
			// Yesterday's loss is outside the window.
			{TraderID: "a", RealizedPnL: -9000, ClosedAt: now.Add(-48 * time.Hour)},
		},
	}})

	assert.InDelta(t, 700.0, s.DailyLoss("a"), 1e-9)
	assert.False(t, s.CheckTraderStopLoss("a"))
}

func TestDailyLossNetsWinsAgainstLosses(t *testing.T) {
	now := time.Now().UTC()
	s := NewStopLossManager(1000, &staticHistory{records: map[string][]position.History{
		"a": {
			{TraderID: "a", RealizedPnL: -800, ClosedAt: now},
			{TraderID: "a", RealizedPnL: 500, ClosedAt: now},
		},
		"b": {
			{TraderID: "b", RealizedPnL: 900, ClosedAt: now},
		},
	}})

	assert.InDelta(t, 300.0, s.DailyLoss("a"), 1e-9)
	assert.Zero(t, s.DailyLoss("b"), "a profitable day reports zero loss")
}

func TestCheckTraderStopLossStrictlyGreater(t *testing.T) {
	now := time.Now().UTC()
	s := NewStopLossManager(1000, &staticHistory{records: map[string][]position.History{
		"at":   {{TraderID: "at", RealizedPnL: -1000, ClosedAt: now}},
		"over": {{TraderID: "over", RealizedPnL: -1000.01, ClosedAt: now}},
	}})

	assert.False(t, s.CheckTraderStopLoss("at"), "exactly at the limit is not a breach")
	assert.True(t, s.CheckTraderStopLoss("over"))
	assert.False(t, s.CheckTraderStopLoss("unknown"))
}
