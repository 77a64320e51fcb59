package strategy

import (
	"fmt"
	"math"
	"time"
)

// Momentum signals when price has moved more than a threshold fraction over a
// lookback window: BUY after an up-move, SELL after a down-move, HOLD inside
// the band.
type Momentum struct {
	lookback  int
	threshold float64 // fractional move, e.g. 0.01 for 1%
}

func NewMomentum(lookback int, threshold float64) (*Momentum, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("momentum requires long_window >= 2, got %d", lookback)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("momentum requires a positive threshold, got %f", threshold)
	}
	return &Momentum{lookback: lookback, threshold: threshold}, nil
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) GenerateSignal(candles []Candle) (*Signal, error) {
	if len(candles) < m.lookback {
		return hold(fmt.Sprintf("warming up: %d/%d candles", len(candles), m.lookback)), nil
	}

	window := candles[len(candles)-m.lookback:]
	first, last := window[0].Close, window[len(window)-1].Close
	if first == 0 {
		return hold("degenerate candle window"), nil
	}

	move := (last - first) / first
	if math.Abs(move) < m.threshold {
		return hold(fmt.Sprintf("move %.4f%% inside threshold", move*100)), nil
	}

	sig := &Signal{
		Confidence: math.Min(math.Abs(move)/m.threshold/2, 1.0),
		Timestamp:  time.Now(),
	}
	if move > 0 {
		sig.Action = ActionBuy
		sig.Reason = fmt.Sprintf("up %.2f%% over %d candles", move*100, m.lookback)
	} else {
		sig.Action = ActionSell
		sig.Reason = fmt.Sprintf("down %.2f%% over %d candles", -move*100, m.lookback)
	}
	return sig, nil
}
