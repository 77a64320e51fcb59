// position/monitor.go
package position

import (
	"context"
	"time"

	"trade_exec_go/logs"
)

// StartMonitoring launches the periodic threshold monitor. Each tick refreshes
// every active position's price and auto-closes the ones whose stop-loss or
// take-profit has triggered. Calling it while already running is a no-op.
func (m *Manager) StartMonitoring(interval time.Duration) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitorRunning {
		logs.Warn("[Position] Monitor already running, ignoring start request.")
		return
	}
	m.monitorStop = make(chan struct{})
	m.monitorRunning = true

	m.monitorWG.Add(1)
	go func() {
		defer m.monitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logs.Infof("[Position] Monitor started, interval %s.", interval)
		for {
			select {
			case <-m.monitorStop:
				logs.Info("[Position] Monitor received stop signal, exiting.")
				return
			case <-ticker.C:
				m.monitorTick(context.Background())
			}
		}
	}()
}

// StopMonitoring stops the monitor and waits for any in-flight tick to finish.
// Safe to call when not running.
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

// Cleanup stops the monitor. The journal is owned by the caller and stays open.
func (m *Manager) Cleanup() {
	m.StopMonitoring()
}

// monitorTick evaluates thresholds for every active position. A failure on
// one position never prevents evaluation of its siblings.
func (m *Manager) monitorTick(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.UpdatePosition(ctx, id, 0); err != nil {
			logs.Errorf("[Position] Monitor failed to refresh position %s: %v", id, err)
			continue
		}

		if hit, err := m.CheckStopLoss(id); err == nil && hit {
			if _, err := m.ClosePosition(ctx, id, ReasonStopLoss); err != nil {
				logs.Errorf("[Position] Monitor failed to close position %s on stop-loss: %v", id, err)
			}
			continue
		}

		if hit, err := m.CheckTakeProfit(id); err == nil && hit {
			if _, err := m.ClosePosition(ctx, id, ReasonTakeProfit); err != nil {
				logs.Errorf("[Position] Monitor failed to close position %s on take-profit: %v", id, err)
			}
		}
	}
}
