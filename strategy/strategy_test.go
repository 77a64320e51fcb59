package strategy

import (
	"testing"

	"trade_exec_go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closes(prices ...float64) []Candle {
	out := make([]Candle, len(prices))
	for i, p := range prices {
		out[i] = Candle{Open: p, High: p, Low: p, Close: p}
	}
	return out
}

func TestNewSelectsGenerator(t *testing.T) {
	g, err := New(&config.StrategyConfig{Name: "sma_cross", ShortWindow: 2, LongWindow: 5})
	require.NoError(t, err)
	assert.Equal(t, "sma_cross", g.Name())

	g, err = New(&config.StrategyConfig{Name: "momentum", LongWindow: 5, Threshold: 0.01})
	require.NoError(t, err)
	assert.Equal(t, "momentum", g.Name())

	_, err = New(&config.StrategyConfig{Name: "martingale"})
	assert.Error(t, err)
}

func TestSMACrossWarmup(t *testing.T) {
	g, err := NewSMACross(2, 5)
	require.NoError(t, err)

	sig, err := g.GenerateSignal(closes(100, 101, 102))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Zero(t, sig.Confidence)
}

func TestSMACrossBuyAndSell(t *testing.T) {
	g, err := NewSMACross(2, 5)
	require.NoError(t, err)

	// Rising closes: short average above long average.
	sig, err := g.GenerateSignal(closes(100, 101, 102, 103, 104))
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Greater(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)

	sig, err = g.GenerateSignal(closes(104, 103, 102, 101, 100))
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestSMACrossRejectsBadWindows(t *testing.T) {
	_, err := NewSMACross(0, 5)
	assert.Error(t, err)
	_, err = NewSMACross(5, 5)
	assert.Error(t, err)
}

func TestMomentumThresholdBand(t *testing.T) {
	g, err := NewMomentum(3, 0.02)
	require.NoError(t, err)

	// +1% over the window stays inside the 2% band.
	sig, err := g.GenerateSignal(closes(100, 100.5, 101))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	sig, err = g.GenerateSignal(closes(100, 102, 104))
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)

	sig, err = g.GenerateSignal(closes(100, 98, 96))
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestMomentumConfidenceCapped(t *testing.T) {
	g, err := NewMomentum(2, 0.01)
	require.NoError(t, err)

	sig, err := g.GenerateSignal(closes(100, 150))
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, 1.0, sig.Confidence)
}

func TestMomentumRejectsBadParams(t *testing.T) {
	_, err := NewMomentum(1, 0.01)
	assert.Error(t, err)
	_, err = NewMomentum(5, 0)
	assert.Error(t, err)
}
