// risk/stoploss.go
package risk

import (
	"time"

	"trade_exec_go/position"
)

// HistoryProvider is the only dependency the stop-loss manager needs, so it
// is usable standalone without the full risk manager wiring.
type HistoryProvider interface {
	HistoryByTrader(traderID string) []position.History
}

// StopLossManager flags trader-level cumulative-loss breaches from closed
// trade history alone.
type StopLossManager struct {
	maxDailyLoss float64
	provider     HistoryProvider
}

// NewStopLossManager creates a stop-loss manager with a daily loss threshold.
func NewStopLossManager(maxDailyLoss float64, provider HistoryProvider) *StopLossManager {
	return &StopLossManager{
		maxDailyLoss: maxDailyLoss,
		provider:     provider,
	}
}

// DailyLoss returns the trader's cumulative realized loss for the current UTC
// day as a positive number, 0 when the day is net non-negative.
func (s *StopLossManager) DailyLoss(traderID string) float64 {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	sum := 0.0
	for _, h := range s.provider.HistoryByTrader(traderID) {
		if h.ClosedAt.UTC().Before(dayStart) {
			continue
		}
		sum += h.RealizedPnL
	}
	if sum >= 0 {
		return 0
	}
	return -sum
}

// CheckTraderStopLoss reports whether the trader's cumulative daily loss has
// exceeded the configured threshold.
func (s *StopLossManager) CheckTraderStopLoss(traderID string) bool {
	return s.DailyLoss(traderID) > s.maxDailyLoss
}
