package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Ensure SQLiteJournal implements the Journal interface.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal persists trade records in an embedded SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade journal at %s: %w", path, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply trade journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// OpenTrade persists a new OPEN record and returns its id.
func (j *SQLiteJournal) OpenTrade(ctx context.Context, t *TradeRecord) (int64, error) {
	openedAt := t.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
		(trader_id, symbol, side, quantity, entry_price, leverage,
		 stop_loss_price, take_profit_price, entry_order_id, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TraderID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.Leverage,
		t.StopLossPrice, t.TakeProfitPrice, t.EntryOrderID, StatusOpen, openedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade record: %w", err)
	}
	return res.LastInsertId()
}

// CloseTrade transitions an OPEN record to CLOSED inside a transaction and
// returns the closed record. The status guard in the UPDATE makes a repeated
// close of the same record fail instead of double-writing.
func (j *SQLiteJournal) CloseTrade(ctx context.Context, tradeID int64, exitPrice, exitQuantity float64, reason, exitOrderID string, fees float64) (*TradeRecord, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin close transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanTrade(tx.QueryRowContext(ctx, selectTradeSQL+` WHERE id = ?`, tradeID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade record %d not found", tradeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade record %d: %w", tradeID, err)
	}
	if rec.Status != StatusOpen {
		return nil, fmt.Errorf("trade record %d is already %s", tradeID, rec.Status)
	}

	closedAt := time.Now().UTC()
	pnl := realizedPnL(rec, exitPrice, exitQuantity) - fees

	res, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, exit_price = ?, exit_quantity = ?, exit_order_id = ?,
		    fees = ?, realized_pnl = ?, reason = ?, closed_at = ?
		WHERE id = ? AND status = ?`,
		StatusClosed, exitPrice, exitQuantity, exitOrderID,
		fees, pnl, reason, closedAt, tradeID, StatusOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to close trade record %d: %w", tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("trade record %d was closed concurrently", tradeID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit close of trade record %d: %w", tradeID, err)
	}

	rec.Status = StatusClosed
	rec.ExitPrice = exitPrice
	rec.ExitQuantity = exitQuantity
	rec.ExitOrderID = exitOrderID
	rec.Fees = fees
	rec.RealizedPnL = pnl
	rec.Reason = reason
	rec.ClosedAt = closedAt
	return rec, nil
}

// UpdateStopLoss persists a stop-loss price change for an open record.
func (j *SQLiteJournal) UpdateStopLoss(ctx context.Context, tradeID int64, price float64) error {
	return j.updatePrice(ctx, tradeID, "stop_loss_price", price)
}

// UpdateTakeProfit persists a take-profit price change for an open record.
func (j *SQLiteJournal) UpdateTakeProfit(ctx context.Context, tradeID int64, price float64) error {
	return j.updatePrice(ctx, tradeID, "take_profit_price", price)
}

func (j *SQLiteJournal) updatePrice(ctx context.Context, tradeID int64, column string, price float64) error {
	res, err := j.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE trades SET %s = ? WHERE id = ? AND status = ?`, column),
		price, tradeID, StatusOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s for trade record %d: %w", column, tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trade record %d not found or not open", tradeID)
	}
	return nil
}

// OpenTrades returns every record still in OPEN status.
func (j *SQLiteJournal) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, selectTradeSQL+` WHERE status = ? ORDER BY id`, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trade records: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

const selectTradeSQL = `
	SELECT id, trader_id, symbol, side, quantity, entry_price, leverage,
	       stop_loss_price, take_profit_price, entry_order_id, exit_order_id,
	       exit_price, exit_quantity, fees, realized_pnl, reason, status,
	       opened_at, closed_at
	FROM trades`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*TradeRecord, error) {
	var rec TradeRecord
	var status string
	var closedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.TraderID, &rec.Symbol, &rec.Side, &rec.Quantity,
		&rec.EntryPrice, &rec.Leverage, &rec.StopLossPrice, &rec.TakeProfitPrice,
		&rec.EntryOrderID, &rec.ExitOrderID, &rec.ExitPrice, &rec.ExitQuantity,
		&rec.Fees, &rec.RealizedPnL, &rec.Reason, &status, &rec.OpenedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = TradeStatus(status)
	if closedAt.Valid {
		rec.ClosedAt = closedAt.Time
	}
	return &rec, nil
}
