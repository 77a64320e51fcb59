// strategy/signal.go
package strategy

import (
	"fmt"
	"time"

	"trade_exec_go/config"
)

// Action is the decision a signal carries.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// Signal is one trading decision emitted by a generator.
type Signal struct {
	Action     Action
	Confidence float64 // 0..1
	Reason     string
	Timestamp  time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Time   time.Time
}

// Generator turns a candle window into a trading signal. Implementations are
// a closed set selected by name through New; a generator that has not seen
// enough candles returns a HOLD signal, never an error.
type Generator interface {
	Name() string
	GenerateSignal(candles []Candle) (*Signal, error)
}

// New builds the named generator variant from its configuration.
func New(cfg *config.StrategyConfig) (Generator, error) {
	switch cfg.Name {
	case "sma_cross":
		return NewSMACross(cfg.ShortWindow, cfg.LongWindow)
	case "momentum":
		return NewMomentum(cfg.LongWindow, cfg.Threshold)
	default:
		return nil, fmt.Errorf("unknown strategy %q (known: sma_cross, momentum)", cfg.Name)
	}
}

func hold(reason string) *Signal {
	return &Signal{Action: ActionHold, Confidence: 0, Reason: reason, Timestamp: time.Now()}
}

// sma computes the simple moving average of the last n closes.
func sma(candles []Candle, n int) float64 {
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}
