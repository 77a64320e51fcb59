// orchestrator.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trade_exec_go/config"
	"trade_exec_go/exchange"
	"trade_exec_go/journal"
	"trade_exec_go/logs"
	"trade_exec_go/monitor"
	"trade_exec_go/position"
	"trade_exec_go/risk"
	"trade_exec_go/strategy"
	"trade_exec_go/utils"

	"github.com/jedib0t/go-pretty/v6/table"
)

// candleWindow caps the in-memory bar history handed to the signal generator.
const candleWindow = 500

// Orchestrator wires the connector, journal, position manager, risk manager,
// strategy and ops server together and drives the signal loop.
type Orchestrator struct {
	connector exchange.Connector
	mock      *exchange.MockConnector // non-nil only in simulation mode
	journal   journal.Journal
	positions *position.Manager
	risks     *risk.Manager
	strat     strategy.Generator
	ops       *monitor.Server

	cfg    *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Set by the emergency-stop handler. While true the signal loop still
	// runs (monitors must keep evaluating open positions) but no new
	// positions are opened.
	halted atomic.Bool

	candles []strategy.Candle
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	var connector exchange.Connector
	var mock *exchange.MockConnector
	if cfg.UseSimulation {
		mock = exchange.NewMockConnector()
		mock.StartSimulation(cfg.Symbol, 30000, 300, time.Second)
		connector = mock
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		client := exchange.NewAPIClient(envCfg.ApiKey, envCfg.ApiSecret, envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds, cfg.Normal.RecvWindowSeconds)
		if err := client.SyncTime(); err != nil {
			return nil, fmt.Errorf("failed to sync exchange time: %w", err)
		}
		connector = client
	}

	if err := os.MkdirAll(cfg.Normal.DataDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(cfg.Normal.DataDirectory, fmt.Sprintf("%s_trades.db", strings.ToUpper(cfg.Symbol)))
	jnl, err := journal.NewSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade journal: %w", err)
	}
	logs.Infof("[Orchestrator] Trade journal opened at: %s", dbPath)

	positions := position.NewManager(connector, jnl)
	risks := risk.NewManager(cfg.Risk, positions)
	positions.AttachRiskGate(risks)

	if err := risks.RegisterTrader(cfg.TraderID, cfg.TraderStake); err != nil {
		jnl.Close()
		return nil, fmt.Errorf("failed to register trader %s: %w", cfg.TraderID, err)
	}

	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		jnl.Close()
		return nil, fmt.Errorf("failed to create strategy: %w", err)
	}
	logs.Infof("[Orchestrator] Strategy %s active for %s (trader %s).", strat.Name(), cfg.Symbol, cfg.TraderID)

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		connector: connector,
		mock:      mock,
		journal:   jnl,
		positions: positions,
		risks:     risks,
		strat:     strat,
		ops:       monitor.NewServer(cfg.Normal.OpsListenAddr, positions, risks),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}

	risks.RegisterStopHandler(func(traderID string) error {
		o.halted.Store(true)
		logs.Errorf("[Orchestrator] Emergency stop executed for trader %s. New entries are halted.", traderID)
		return nil
	})

	// Crash recovery: rebuild tracking state from open journal records before
	// any monitor loop runs.
	if err := positions.RecoverPositions(ctx); err != nil {
		cancel()
		jnl.Close()
		return nil, fmt.Errorf("failed to recover open positions: %w", err)
	}

	return o, nil
}

func (o *Orchestrator) Start() {
	o.positions.StartMonitoring(time.Duration(o.cfg.Normal.MonitorIntervalSeconds) * time.Second)
	o.risks.StartMonitoring()
	o.ops.Start()

	o.wg.Add(1)
	go o.signalLoop()

	logs.Infof("Execution core for %s started, press Ctrl+C to exit.", o.cfg.Symbol)
}

// signalLoop collects one synthetic candle per interval from the ticker feed
// and acts on the generator's decision.
func (o *Orchestrator) signalLoop() {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Normal.CandleIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.step()
		}
	}
}

func (o *Orchestrator) step() {
	tick, err := o.connector.GetTicker(o.ctx, o.cfg.Symbol)
	if err != nil {
		logs.Warnf("[Orchestrator] Failed to fetch ticker for %s: %v", o.cfg.Symbol, err)
		return
	}

	o.candles = append(o.candles, strategy.Candle{
		Open:  tick.Price,
		High:  tick.Price,
		Low:   tick.Price,
		Close: tick.Price,
		Time:  tick.Time,
	})
	if len(o.candles) > candleWindow {
		o.candles = o.candles[len(o.candles)-candleWindow:]
	}

	sig, err := o.strat.GenerateSignal(o.candles)
	if err != nil {
		logs.Errorf("[Orchestrator] Signal generation failed: %v", err)
		return
	}

	switch sig.Action {
	case strategy.ActionHold:
		return
	case strategy.ActionClose:
		o.closeAll(position.ReasonSignal)
	case strategy.ActionBuy, strategy.ActionSell:
		o.tryOpen(sig, tick.Price)
	}
}

func (o *Orchestrator) tryOpen(sig *strategy.Signal, price float64) {
	if o.halted.Load() {
		logs.Warnf("[Orchestrator] %s signal ignored: trading halted by emergency stop.", sig.Action)
		return
	}
	// One position per trader at a time. An opposing signal closes first.
	open := o.positions.PositionsByTrader(o.cfg.TraderID)
	if len(open) > 0 {
		for _, p := range open {
			opposing := (sig.Action == strategy.ActionBuy && p.Side == position.SideShort) ||
				(sig.Action == strategy.ActionSell && p.Side == position.SideLong)
			if opposing {
				if _, err := o.positions.ClosePosition(o.ctx, p.ID, position.ReasonSignal); err != nil {
					logs.Errorf("[Orchestrator] Failed to close %s on opposing signal: %v", p.ID, err)
					return
				}
			} else {
				return // already positioned in the signal's direction
			}
		}
	}

	stopPct := o.cfg.Risk.StopLossPercentage
	var stopLoss, takeProfit float64
	if sig.Action == strategy.ActionBuy {
		stopLoss = price * (1 - stopPct)
		takeProfit = price * (1 + 2*stopPct)
	} else {
		stopLoss = price * (1 + stopPct)
		takeProfit = price * (1 - 2*stopPct)
	}
	stopLoss = utils.RoundToPrecision(stopLoss, 4)
	takeProfit = utils.RoundToPrecision(takeProfit, 4)

	pos, err := o.positions.OpenPosition(o.ctx, sig, o.cfg.TraderID, o.cfg.Symbol, o.cfg.TradeQuantity, o.cfg.Leverage, stopLoss, takeProfit)
	if err != nil {
		logs.Warnf("[Orchestrator] Open on %s signal rejected: %v", sig.Action, err)
		return
	}
	logs.Infof("[Orchestrator] Opened %s %s @ %.4f (signal: %s, confidence %.2f).",
		pos.Side, pos.Symbol, pos.EntryPrice, sig.Reason, sig.Confidence)
}

func (o *Orchestrator) closeAll(reason string) {
	for _, p := range o.positions.PositionsByTrader(o.cfg.TraderID) {
		if _, err := o.positions.ClosePosition(o.ctx, p.ID, reason); err != nil {
			logs.Errorf("[Orchestrator] Failed to close position %s: %v", p.ID, err)
		}
	}
}

func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")

	o.cancel()
	o.wg.Wait()

	o.positions.StopMonitoring()
	o.risks.StopMonitoring()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ops.Stop(shutdownCtx); err != nil {
		logs.Errorf("[Orchestrator] Ops server shutdown error: %v", err)
	}

	if o.mock != nil {
		o.mock.StopSimulation()
	}

	o.printFinalSummary()

	if err := o.journal.Close(); err != nil {
		logs.Errorf("[Orchestrator] Failed to close trade journal: %v", err)
	}
	logs.Info("All services stopped successfully.")
}

func (o *Orchestrator) printFinalSummary() {
	history := o.positions.AllHistory()
	open := o.positions.AllPositions()

	t := table.NewWriter()
	t.SetTitle("Session Summary")
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Exit", "PnL", "Reason"})
	for _, h := range history {
		t.AppendRow(table.Row{h.Symbol, h.Side, fmt.Sprintf("%.4f", h.Quantity),
			fmt.Sprintf("%.4f", h.EntryPrice), fmt.Sprintf("%.4f", h.ClosePrice),
			fmt.Sprintf("%.4f", h.RealizedPnL), h.Reason})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total PnL", fmt.Sprintf("%.4f", o.positions.TotalPnL()), ""})
	fmt.Println(t.Render())

	logs.Infof("[Orchestrator] Closed trades: %d, win rate: %.1f%%, open positions left: %d.",
		len(history), o.positions.WinRate()*100, len(open))
	for _, p := range open {
		logs.Warnf("[Orchestrator] Position %s (%s %s) remains open with unrealized PnL %.4f.",
			p.ID, p.Side, p.Symbol, p.UnrealizedPnL)
	}
}
