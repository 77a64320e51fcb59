package strategy

import (
	"fmt"
	"math"
	"time"
)

// SMACross signals on the relationship between a short and a long simple
// moving average of closes: BUY while the short average is above the long one,
// SELL while below. Confidence scales with the relative gap between the two.
type SMACross struct {
	shortWindow int
	longWindow  int
}

func NewSMACross(shortWindow, longWindow int) (*SMACross, error) {
	if shortWindow <= 0 || longWindow <= shortWindow {
		return nil, fmt.Errorf("sma_cross requires 0 < short_window < long_window, got %d/%d", shortWindow, longWindow)
	}
	return &SMACross{shortWindow: shortWindow, longWindow: longWindow}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) GenerateSignal(candles []Candle) (*Signal, error) {
	if len(candles) < s.longWindow {
		return hold(fmt.Sprintf("warming up: %d/%d candles", len(candles), s.longWindow)), nil
	}

	shortAvg := sma(candles, s.shortWindow)
	longAvg := sma(candles, s.longWindow)
	if longAvg == 0 {
		return hold("degenerate candle window"), nil
	}

	gap := (shortAvg - longAvg) / longAvg
	confidence := math.Min(math.Abs(gap)*100, 1.0)

	sig := &Signal{Confidence: confidence, Timestamp: time.Now()}
	switch {
	case gap > 0:
		sig.Action = ActionBuy
		sig.Reason = fmt.Sprintf("SMA%d %.4f above SMA%d %.4f", s.shortWindow, shortAvg, s.longWindow, longAvg)
	case gap < 0:
		sig.Action = ActionSell
		sig.Reason = fmt.Sprintf("SMA%d %.4f below SMA%d %.4f", s.shortWindow, shortAvg, s.longWindow, longAvg)
	default:
		sig.Action = ActionHold
		sig.Reason = "averages flat"
	}
	return sig, nil
}
