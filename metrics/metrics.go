// metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_core_positions_opened_total",
			Help: "Total number of positions opened",
		},
		[]string{"symbol", "side"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_core_positions_closed_total",
			Help: "Total number of positions closed",
		},
		[]string{"symbol", "reason"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_core_open_positions",
			Help: "Number of currently open positions",
		},
	)

	riskViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_core_risk_violations_total",
			Help: "Total number of risk limit violations",
		},
		[]string{"kind"},
	)

	emergencyStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_core_emergency_stops_total",
			Help: "Total number of executed emergency stops",
		},
		[]string{"trader"},
	)

	riskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exec_core_risk_score",
			Help: "Latest composite risk score per trader",
		},
		[]string{"trader"},
	)
)

func init() {
	prometheus.MustRegister(positionsOpened)
	prometheus.MustRegister(positionsClosed)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(riskViolations)
	prometheus.MustRegister(emergencyStops)
	prometheus.MustRegister(riskScore)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPositionOpened records a successful position open.
func RecordPositionOpened(symbol, side string) {
	positionsOpened.WithLabelValues(symbol, side).Inc()
}

// RecordPositionClosed records a successful position close with its reason.
func RecordPositionClosed(symbol, reason string) {
	positionsClosed.WithLabelValues(symbol, reason).Inc()
}

// SetOpenPositions updates the open-position gauge.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// RecordRiskViolation records a violated risk constraint by kind.
func RecordRiskViolation(kind string) {
	riskViolations.WithLabelValues(kind).Inc()
}

// RecordEmergencyStop records one executed emergency stop for a trader.
func RecordEmergencyStop(trader string) {
	emergencyStops.WithLabelValues(trader).Inc()
}

// SetRiskScore updates the latest composite risk score for a trader.
func SetRiskScore(trader string, score float64) {
	riskScore.WithLabelValues(trader).Set(score)
}
