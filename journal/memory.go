package journal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ensure MemoryJournal implements the Journal interface.
var _ Journal = (*MemoryJournal)(nil)

// MemoryJournal keeps trade records in memory. It backs simulation runs and
// tests; FailNextClose injects a one-shot persistence failure so callers can
// exercise the close-retry path.
type MemoryJournal struct {
	mu       sync.Mutex
	trades   map[int64]*TradeRecord
	nextID   int64
	closeErr error
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{
		trades: make(map[int64]*TradeRecord),
		nextID: 1,
	}
}

// FailNextClose makes the next CloseTrade call fail with err, writing nothing.
func (j *MemoryJournal) FailNextClose(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeErr = err
}

func (j *MemoryJournal) OpenTrade(ctx context.Context, t *TradeRecord) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := *t
	rec.ID = j.nextID
	rec.Status = StatusOpen
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now().UTC()
	}
	j.trades[rec.ID] = &rec
	j.nextID++
	return rec.ID, nil
}

func (j *MemoryJournal) CloseTrade(ctx context.Context, tradeID int64, exitPrice, exitQuantity float64, reason, exitOrderID string, fees float64) (*TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closeErr != nil {
		err := j.closeErr
		j.closeErr = nil
		return nil, err
	}

	rec, ok := j.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("trade record %d not found", tradeID)
	}
	if rec.Status != StatusOpen {
		return nil, fmt.Errorf("trade record %d is already %s", tradeID, rec.Status)
	}

	rec.Status = StatusClosed
	rec.ExitPrice = exitPrice
	rec.ExitQuantity = exitQuantity
	rec.ExitOrderID = exitOrderID
	rec.Fees = fees
	rec.RealizedPnL = realizedPnL(rec, exitPrice, exitQuantity) - fees
	rec.Reason = reason
	rec.ClosedAt = time.Now().UTC()

	out := *rec
	return &out, nil
}

func (j *MemoryJournal) UpdateStopLoss(ctx context.Context, tradeID int64, price float64) error {
	return j.updatePrice(tradeID, func(rec *TradeRecord) { rec.StopLossPrice = price })
}

func (j *MemoryJournal) UpdateTakeProfit(ctx context.Context, tradeID int64, price float64) error {
	return j.updatePrice(tradeID, func(rec *TradeRecord) { rec.TakeProfitPrice = price })
}

func (j *MemoryJournal) updatePrice(tradeID int64, apply func(*TradeRecord)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.trades[tradeID]
	if !ok || rec.Status != StatusOpen {
		return fmt.Errorf("trade record %d not found or not open", tradeID)
	}
	apply(rec)
	return nil
}

func (j *MemoryJournal) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []TradeRecord
	for id := int64(1); id < j.nextID; id++ {
		if rec, ok := j.trades[id]; ok && rec.Status == StatusOpen {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

// Trade returns a copy of a record by id, open or closed. Test helper.
func (j *MemoryJournal) Trade(tradeID int64) (*TradeRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.trades[tradeID]
	if !ok {
		return nil, false
	}
	out := *rec
	return &out, true
}
