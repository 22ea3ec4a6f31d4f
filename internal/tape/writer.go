// Package tape is an optional, best-effort sink that copies completed
// trades into Postgres for downstream analytics/audit. It is explicitly not
// a recovery mechanism: Book never reads from it, and a fresh Book never
// consults Postgres on startup — wiring this in does not reintroduce the
// persistence/recovery the spec places out of scope.
package tape

import (
	"database/sql"
	"sync"

	"limitbook/internal/session"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const batchSize = 2000

// Writer batches session.Trade callbacks and flushes them to Postgres via
// COPY, in the style of the teacher pack's quantcup PersistDeals routine.
type Writer struct {
	db *sql.DB

	mu      sync.Mutex
	pending []session.Trade
}

// Open connects to Postgres using connStr (e.g.
// "user=trader dbname=tape sslmode=disable") and ensures the trades table
// exists.
func Open(connStr string) (*Writer, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, err
	}
	return &Writer{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS trades (
	id serial primary key,
	buy_order_id bigint,
	sell_order_id bigint,
	price bigint,
	qty bigint,
	traded_at timestamptz
)`

// ReportTrade satisfies session.Reporter. Trades are buffered; once
// batchSize accumulates, the batch is flushed synchronously on the caller's
// goroutine, so that call blocks for the COPY. Remaining trades are written
// by Flush or Close on shutdown.
func (w *Writer) ReportTrade(t session.Trade) {
	w.mu.Lock()
	w.pending = append(w.pending, t)
	full := len(w.pending) >= batchSize
	w.mu.Unlock()

	if full {
		if err := w.Flush(); err != nil {
			log.Error().Err(err).Msg("tape: failed to flush trade batch")
		}
	}
}

func copyInTrades() string {
	return pq.CopyIn("trades", "buy_order_id", "sell_order_id", "price", "qty", "traded_at")
}

// Flush writes any buffered trades to Postgres using a COPY statement.
func (w *Writer) Flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(copyInTrades())
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, t := range batch {
		if _, err := stmt.Exec(t.BuyOrderID, t.SellOrderID, int64(t.Price), int64(t.Qty), t.Timestamp); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return err
	}

	log.Info().Int("trades", len(batch)).Msg("tape: flushed batch")
	return tx.Commit()
}

// Close flushes any remaining trades and closes the underlying connection.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.db.Close()
}
