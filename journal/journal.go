// journal/journal.go
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auto_kis_go/exits"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Journal records every accepted order in SQLite so fills and exits can be
// audited after the fact. Rows are keyed by ULIDs, which sort by creation
// time.
type Journal struct {
	db *sql.DB
}

// Open creates the journal database inside dir, applying the schema.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// RecordEntry journals an accepted entry order.
func (j *Journal) RecordEntry(ticker, exchange string, qty int64, limitPrice float64, orderNo string) error {
	_, err := j.db.Exec(`
		INSERT INTO entries
		(entry_id, ticker, exchange, quantity, limit_price, order_no, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), ticker, exchange, qty, limitPrice, orderNo, time.Now().UTC(),
	)
	return err
}

// RecordExit journals a confirmed exit order.
func (j *Journal) RecordExit(ev exits.Event) error {
	_, err := j.db.Exec(`
		INSERT INTO exits
		(exit_id, ticker, quantity, limit_price, reason, stage_from, stage_to, profit_pct, peak_pct, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), ev.Ticker, ev.Quantity, ev.Price, ev.Reason,
		ev.StageFrom, ev.StageTo, ev.ProfitPct, ev.PeakPct, time.Now().UTC(),
	)
	return err
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
