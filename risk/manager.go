// risk/manager.go
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"trade_exec_go/config"
	"trade_exec_go/logs"
	"trade_exec_go/metrics"
)

// Risk score weights: exposure dominates, leverage and realized losses split
// the remainder.
const (
	weightExposure = 0.40
	weightLeverage = 0.30
	weightLoss     = 0.30
)

// stopPhase tags the per-trader emergency-stop claim.
type stopPhase int

const (
	stopInProgress stopPhase = iota + 1
	stopDone
)

// stopClaim is the per-trader atomic claim guaranteeing exactly one
// emergency-stop execution. A trader with no claim has not started; err is
// written before done is closed, so late callers read it safely.
type stopClaim struct {
	phase stopPhase
	done  chan struct{}
	err   error
}

// Manager validates pre-trade risk, scores registered traders periodically,
// and force-liquidates a trader via EmergencyStop when limits are breached.
type Manager struct {
	mu       sync.RWMutex
	cfg      *config.RiskConfig
	provider PositionProvider
	traders  map[string]float64 // trader id -> registered stake
	claims   map[string]*stopClaim
	handler  StopHandler
	stopLoss *StopLossManager

	monitorMu      sync.Mutex
	monitorStop    chan struct{}
	monitorWG      sync.WaitGroup
	monitorRunning bool
}

// NewManager creates a risk manager over a position provider.
func NewManager(cfg *config.RiskConfig, provider PositionProvider) *Manager {
	return &Manager{
		cfg:      cfg,
		provider: provider,
		traders:  make(map[string]float64),
		claims:   make(map[string]*stopClaim),
		stopLoss: NewStopLossManager(cfg.MaxDailyLoss, provider),
	}
}

// RegisterStopHandler wires the callback invoked after an emergency stop has
// closed a trader's positions. One handler serves all traders.
func (m *Manager) RegisterStopHandler(h StopHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// RegisterTrader admits a trader with its stake after checking that the
// remaining global budget can accommodate it.
func (m *Manager) RegisterTrader(traderID string, stake float64) error {
	if err := m.ValidateTraderCreation(stake); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.traders[traderID]; exists {
		return fmt.Errorf("trader %s is already registered", traderID)
	}
	m.traders[traderID] = stake
	logs.Infof("[Risk] Registered trader %s with stake %.2f.", traderID, stake)
	return nil
}

// ValidateTraderCreation checks that the global budget can absorb a new
// trader's stake.
func (m *Manager) ValidateTraderCreation(stake float64) error {
	if stake <= 0 {
		return &Violation{Kind: ViolationBudget, Message: fmt.Sprintf("trader stake must be positive, got %.2f", stake)}
	}

	m.mu.RLock()
	committed := 0.0
	for _, s := range m.traders {
		committed += s
	}
	m.mu.RUnlock()

	if committed+stake > m.cfg.MaxTotalBudget {
		v := &Violation{
			Kind: ViolationBudget,
			Message: fmt.Sprintf("stake %.2f does not fit remaining budget %.2f of %.2f",
				stake, m.cfg.MaxTotalBudget-committed, m.cfg.MaxTotalBudget),
		}
		metrics.RecordRiskViolation(string(v.Kind))
		return v
	}
	return nil
}

// ValidateBudget checks a candidate notional amount against the trader's
// exposure limit and the global budget. Exposure is summed from live
// positions through the provider.
func (m *Manager) ValidateBudget(amount float64, traderID string, leverage float64) error {
	traderExposure := m.traderExposure(traderID)
	if traderExposure+amount > m.cfg.MaxExposurePerTrader {
		v := &Violation{
			Kind: ViolationExposure,
			Message: fmt.Sprintf("trader %s exposure %.2f + %.2f exceeds per-trader limit %.2f",
				traderID, traderExposure, amount, m.cfg.MaxExposurePerTrader),
		}
		metrics.RecordRiskViolation(string(v.Kind))
		return v
	}

	total := m.totalExposure()
	if total+amount > m.cfg.MaxTotalBudget {
		v := &Violation{
			Kind: ViolationBudget,
			Message: fmt.Sprintf("total exposure %.2f + %.2f exceeds total budget %.2f",
				total, amount, m.cfg.MaxTotalBudget),
		}
		metrics.RecordRiskViolation(string(v.Kind))
		return v
	}
	return nil
}

// ValidateLeverage checks a requested leverage against the per-trader cap and
// the system-wide leverage budget.
func (m *Manager) ValidateLeverage(leverage float64, traderID string) error {
	if leverage > m.cfg.MaxLeveragePerTrader {
		v := &Violation{
			Kind: ViolationLeverage,
			Message: fmt.Sprintf("requested leverage %.1fx exceeds per-trader limit %.1fx",
				leverage, m.cfg.MaxLeveragePerTrader),
		}
		metrics.RecordRiskViolation(string(v.Kind))
		return v
	}

	if total := m.totalLeverage(); total+leverage > m.cfg.MaxTotalLeverage {
		v := &Violation{
			Kind: ViolationLeverage,
			Message: fmt.Sprintf("total leverage in use %.1fx + %.1fx exceeds system limit %.1fx",
				total, leverage, m.cfg.MaxTotalLeverage),
		}
		metrics.RecordRiskViolation(string(v.Kind))
		return v
	}
	return nil
}

// CanOpenPosition is the non-throwing pre-flight check consulted before every
// open: a denial is a normal branch for the caller, never an error. It also
// denies all opens for a trader whose daily loss limit is already breached.
func (m *Manager) CanOpenPosition(traderID string, notionalAmount, leverage float64) bool {
	if err := m.ValidateBudget(notionalAmount, traderID, leverage); err != nil {
		logs.Warnf("[Risk] Open denied for trader %s: %v", traderID, err)
		return false
	}
	if err := m.ValidateLeverage(leverage, traderID); err != nil {
		logs.Warnf("[Risk] Open denied for trader %s: %v", traderID, err)
		return false
	}
	if m.stopLoss.CheckTraderStopLoss(traderID) {
		logs.Warnf("[Risk] Open denied for trader %s: daily loss limit breached.", traderID)
		metrics.RecordRiskViolation(string(ViolationDailyLoss))
		return false
	}
	return true
}

// CheckRiskLimits audits every constraint across the whole system and returns
// all violations without throwing. Total exposure and total leverage consider
// every trader, not only the queried one.
func (m *Manager) CheckRiskLimits(traderID string) CheckResult {
	var violations []Violation

	if traderExposure := m.traderExposure(traderID); traderExposure > m.cfg.MaxExposurePerTrader {
		violations = append(violations, Violation{
			Kind: ViolationExposure,
			Message: fmt.Sprintf("trader %s exposure %.2f exceeds per-trader limit %.2f",
				traderID, traderExposure, m.cfg.MaxExposurePerTrader),
		})
	}

	if total := m.totalExposure(); total > m.cfg.MaxTotalExposure {
		violations = append(violations, Violation{
			Kind: ViolationExposure,
			Message: fmt.Sprintf("total exposure %.2f across all traders exceeds system limit %.2f",
				total, m.cfg.MaxTotalExposure),
		})
	}

	if maxLev := m.traderMaxLeverage(traderID); maxLev > m.cfg.MaxLeveragePerTrader {
		violations = append(violations, Violation{
			Kind: ViolationLeverage,
			Message: fmt.Sprintf("trader %s leverage %.1fx exceeds per-trader limit %.1fx",
				traderID, maxLev, m.cfg.MaxLeveragePerTrader),
		})
	}

	if total := m.totalLeverage(); total > m.cfg.MaxTotalLeverage {
		violations = append(violations, Violation{
			Kind: ViolationLeverage,
			Message: fmt.Sprintf("total leverage in use %.1fx exceeds system limit %.1fx",
				total, m.cfg.MaxTotalLeverage),
		})
	}

	if loss := m.stopLoss.DailyLoss(traderID); loss > m.cfg.MaxDailyLoss {
		violations = append(violations, Violation{
			Kind: ViolationDailyLoss,
			Message: fmt.Sprintf("trader %s daily loss %.2f exceeds limit %.2f",
				traderID, loss, m.cfg.MaxDailyLoss),
		})
	}

	for _, v := range violations {
		metrics.RecordRiskViolation(string(v.Kind))
	}
	return CheckResult{Allowed: len(violations) == 0, Violations: violations}
}

// CalculateRiskScore combines normalized exposure, leverage, and realized-loss
// ratios into a weighted composite and a mitigation recommendation.
func (m *Manager) CalculateRiskScore(traderID string) Score {
	exposureRatio := clamp01(m.traderExposure(traderID) / m.cfg.MaxExposurePerTrader)
	leverageRatio := clamp01(m.traderMaxLeverage(traderID) / m.cfg.MaxLeveragePerTrader)
	lossRatio := clamp01(m.stopLoss.DailyLoss(traderID) / m.cfg.MaxDailyLoss)

	composite := weightExposure*exposureRatio + weightLeverage*leverageRatio + weightLoss*lossRatio

	recommendation := RecommendContinue
	switch {
	case composite >= m.cfg.ScoreStopThreshold:
		recommendation = RecommendEmergencyStop
	case composite >= m.cfg.ScoreReduceThreshold:
		recommendation = RecommendReduceExposure
	}

	metrics.SetRiskScore(traderID, composite)
	return Score{
		TraderID:       traderID,
		ExposureRatio:  exposureRatio,
		LeverageRatio:  leverageRatio,
		LossRatio:      lossRatio,
		Composite:      composite,
		Recommendation: recommendation,
	}
}

// EmergencyStop force-closes every open position of a trader and invokes the
// registered stop handler, exactly once per trader no matter how many callers
// race: the first caller claims execution, late callers block until it
// finishes and observe the same outcome.
func (m *Manager) EmergencyStop(ctx context.Context, traderID string) error {
	m.mu.Lock()
	if claim, ok := m.claims[traderID]; ok {
		m.mu.Unlock()
		<-claim.done
		return claim.err
	}
	claim := &stopClaim{phase: stopInProgress, done: make(chan struct{})}
	m.claims[traderID] = claim
	m.mu.Unlock()

	claim.err = m.executeStop(ctx, traderID)

	m.mu.Lock()
	claim.phase = stopDone
	m.mu.Unlock()
	close(claim.done)

	return claim.err
}

func (m *Manager) executeStop(ctx context.Context, traderID string) error {
	logs.Warnf("[Risk] EMERGENCY STOP for trader %s: liquidating all positions.", traderID)
	metrics.RecordEmergencyStop(traderID)

	positions := m.provider.PositionsByTrader(traderID)
	failed := 0
	for _, pos := range positions {
		if _, err := m.provider.ClosePosition(ctx, pos.ID, "EMERGENCY_STOP"); err != nil {
			logs.Errorf("[Risk] Emergency stop failed to close position %s: %v", pos.ID, err)
			failed++
		}
	}

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler != nil {
		if err := handler(traderID); err != nil {
			logs.Errorf("[Risk] Stop handler for trader %s returned error: %v", traderID, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("emergency stop for trader %s: %d of %d position closes failed", traderID, failed, len(positions))
	}
	logs.Warnf("[Risk] Emergency stop for trader %s complete: %d positions closed.", traderID, len(positions))
	return nil
}

// StartMonitoring launches the periodic risk monitor: every interval it scores
// each registered trader and triggers EmergencyStop on a stop recommendation
// or a breached daily loss limit. One trader's failure never blocks the rest
// of the pass.
func (m *Manager) StartMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitorRunning {
		logs.Warn("[Risk] Monitor already running, ignoring start request.")
		return
	}
	m.monitorStop = make(chan struct{})
	m.monitorRunning = true

	interval := time.Duration(m.cfg.MonitorIntervalSeconds) * time.Second
	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logs.Infof("[Risk] Monitor started, interval %s.", interval)
		for {
			select {
			case <-m.monitorStop:
				logs.Info("[Risk] Monitor received stop signal, exiting.")
				return
			case <-ticker.C:
				m.monitorTick(context.Background())
			}
		}
	}()
}

// StopMonitoring stops the monitor and waits for any in-flight pass to finish.
func (m *Manager) StopMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if !m.monitorRunning {
		return
	}
	close(m.monitorStop)
	m.monitorWG.Wait()
	m.monitorRunning = false
}

func (m *Manager) monitorTick(ctx context.Context) {
	m.mu.RLock()
	traders := make([]string, 0, len(m.traders))
	for id := range m.traders {
		traders = append(traders, id)
	}
	m.mu.RUnlock()

	for _, traderID := range traders {
		score := m.CalculateRiskScore(traderID)
		breached := m.stopLoss.CheckTraderStopLoss(traderID)
		if score.Recommendation != RecommendEmergencyStop && !breached {
			if score.Recommendation == RecommendReduceExposure {
				logs.Warnf("[Risk] Trader %s risk score %.3f: reduce exposure.", traderID, score.Composite)
			}
			continue
		}

		logs.Warnf("[Risk] Trader %s breached limits (score %.3f, daily loss breach: %v), triggering emergency stop.",
			traderID, score.Composite, breached)
		if err := m.EmergencyStop(ctx, traderID); err != nil {
			logs.Errorf("[Risk] Emergency stop for trader %s finished with errors: %v", traderID, err)
		}
	}
}

func (m *Manager) traderExposure(traderID string) float64 {
	total := 0.0
	for _, pos := range m.provider.PositionsByTrader(traderID) {
		total += pos.Notional()
	}
	return total
}

func (m *Manager) totalExposure() float64 {
	total := 0.0
	for _, pos := range m.provider.AllPositions() {
		total += pos.Notional()
	}
	return total
}

func (m *Manager) totalLeverage() float64 {
	total := 0.0
	for _, pos := range m.provider.AllPositions() {
		total += pos.Leverage
	}
	return total
}

func (m *Manager) traderMaxLeverage(traderID string) float64 {
	max := 0.0
	for _, pos := range m.provider.PositionsByTrader(traderID) {
		max = math.Max(max, pos.Leverage)
	}
	return max
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
