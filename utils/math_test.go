package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.False(t, FloatEquals(0.1, 0.2))
}

func TestRoundToPrecision(t *testing.T) {
	assert.Equal(t, 30000.12, RoundToPrecision(30000.1234, 2))
	assert.Equal(t, 30000.0, RoundToPrecision(30000.4, 0))
	assert.Equal(t, 0.001, RoundToPrecision(0.0009999, 3))
}
