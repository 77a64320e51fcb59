// monitor/http.go
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"trade_exec_go/logs"
	"trade_exec_go/metrics"
	"trade_exec_go/position"
	"trade_exec_go/risk"

	"github.com/gorilla/mux"
)

// PositionSource is the read-only position view the ops server exposes.
type PositionSource interface {
	AllPositions() []*position.ManagedPosition
	PositionsByTrader(traderID string) []*position.ManagedPosition
	TotalPnL() float64
	WinRate() float64
}

// RiskSource is the read-only risk view the ops server exposes.
type RiskSource interface {
	CalculateRiskScore(traderID string) risk.Score
	CheckRiskLimits(traderID string) risk.CheckResult
}

// Server is the read-only operations endpoint: health, Prometheus metrics,
// open positions, and per-trader risk state. It is observability plumbing,
// not a trading API.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the ops server on addr.
func NewServer(addr string, positions PositionSource, risks RiskSource) *Server {
	r := mux.NewRouter()

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]interface{}{
			"positions": positions.AllPositions(),
			"total_pnl": positions.TotalPnL(),
			"win_rate":  positions.WinRate(),
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/positions/{trader}", func(w http.ResponseWriter, req *http.Request) {
		trader := mux.Vars(req)["trader"]
		writeJSON(w, positions.PositionsByTrader(trader))
	}).Methods(http.MethodGet)

	r.HandleFunc("/risk/{trader}/score", func(w http.ResponseWriter, req *http.Request) {
		trader := mux.Vars(req)["trader"]
		writeJSON(w, risks.CalculateRiskScore(trader))
	}).Methods(http.MethodGet)

	r.HandleFunc("/risk/{trader}/limits", func(w http.ResponseWriter, req *http.Request) {
		trader := mux.Vars(req)["trader"]
		writeJSON(w, risks.CheckRiskLimits(trader))
	}).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start serves in a background goroutine until Stop is called.
func (s *Server) Start() {
	go func() {
		logs.Infof("[Ops] HTTP server listening on %s.", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("[Ops] HTTP server exited with error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Errorf("[Ops] Failed to encode response: %v", err)
	}
}
