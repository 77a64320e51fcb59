package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trade_exec_go/position"
	"trade_exec_go/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPositions struct {
	all      []*position.ManagedPosition
	byTrader map[string][]*position.ManagedPosition
}

func (s *stubPositions) AllPositions() []*position.ManagedPosition { return s.all }
func (s *stubPositions) PositionsByTrader(traderID string) []*position.ManagedPosition {
	return s.byTrader[traderID]
}
func (s *stubPositions) TotalPnL() float64 { return 123.45 }
func (s *stubPositions) WinRate() float64  { return 0.75 }

type stubRisks struct{}

func (s *stubRisks) CalculateRiskScore(traderID string) risk.Score {
	return risk.Score{TraderID: traderID, Composite: 0.42, Recommendation: risk.RecommendContinue}
}

func (s *stubRisks) CheckRiskLimits(traderID string) risk.CheckResult {
	return risk.CheckResult{Allowed: false, Violations: []risk.Violation{
		{Kind: risk.ViolationExposure, Message: "over"},
	}}
}

func newTestHandler() http.Handler {
	pos := &position.ManagedPosition{ID: "p1", TraderID: "t1", Symbol: "BTCUSDT", Side: position.SideLong}
	src := &stubPositions{
		all:      []*position.ManagedPosition{pos},
		byTrader: map[string][]*position.ManagedPosition{"t1": {pos}},
	}
	return NewServer(":0", src, &stubRisks{}).httpServer.Handler
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := get(t, newTestHandler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPositionsEndpoint(t *testing.T) {
	rec := get(t, newTestHandler(), "/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Positions []position.ManagedPosition `json:"positions"`
		TotalPnL  float64                    `json:"total_pnl"`
		WinRate   float64                    `json:"win_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "p1", body.Positions[0].ID)
	assert.Equal(t, 123.45, body.TotalPnL)
	assert.Equal(t, 0.75, body.WinRate)
}

func TestPositionsByTraderEndpoint(t *testing.T) {
	h := newTestHandler()

	rec := get(t, h, "/positions/t1")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []position.ManagedPosition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)

	rec = get(t, h, "/positions/unknown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestRiskEndpoints(t *testing.T) {
	h := newTestHandler()

	rec := get(t, h, "/risk/t1/score")
	require.Equal(t, http.StatusOK, rec.Code)
	var score risk.Score
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &score))
	assert.Equal(t, "t1", score.TraderID)
	assert.Equal(t, 0.42, score.Composite)

	rec = get(t, h, "/risk/t1/limits")
	require.Equal(t, http.StatusOK, rec.Code)
	var check risk.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.Allowed)
	require.Len(t, check.Violations, 1)
	assert.Equal(t, risk.ViolationExposure, check.Violations[0].Kind)
}

func TestMetricsEndpointServes(t *testing.T) {
	rec := get(t, newTestHandler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
