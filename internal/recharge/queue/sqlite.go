// Package queue implements the durable per-service-type auxiliary queue
// (C4): one sqlite file per service type, written synchronously before any
// ledger write so a crash between a successful webservice call and the
// batch commit is always recoverable on the next tick
package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	perr "github.com/mextic/rechargeengine/internal/platform/errors"
)

// Config mirrors the WAL/busy_timeout pragmas every queue file opens with
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the pragma set used for every queue file
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1, // single writer per service-type file
	}
}

// open initializes one sqlite connection pool with WAL and busy_timeout set
// in the DSN so they apply to every connection, not just the first
func open(dbPath string, cfg Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, perr.BackendErrorf("queue: open %s: %v", dbPath, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, perr.BackendUnavailablef("queue: ping %s: %v", dbPath, err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	service_type TEXT NOT NULL,
	sim TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	amount TEXT NOT NULL,
	days_validity INTEGER NOT NULL,
	package_code TEXT NOT NULL DEFAULT '',
	package_psl TEXT NOT NULL DEFAULT '',
	record_json TEXT NOT NULL,
	webservice_response_json TEXT NOT NULL,
	note_json TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	trans_id TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	added_at TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	expiration_date_human TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_added_at ON queue_items(added_at);

CREATE TABLE IF NOT EXISTS crash_markers (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	started_at TEXT NOT NULL,
	items_in_process INTEGER NOT NULL,
	sample_json TEXT NOT NULL
);
`

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return perr.BackendErrorf("queue: migrate: %v", err)
	}
	return nil
}
