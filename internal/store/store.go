// Package store is the durable, transactional backing for agents,
// sessions, file claims, blackboard broadcasts, pipeline artifacts,
// circuit state, and findings (spec component C1).
//
// It is grounded on the teacher's internal/memory (SQLite-plus-embedded-
// migrations) and internal/events (SQLite-backed append log) packages:
// same driver, same WAL/busy-timeout DSN, same idempotent versioned
// migration shape.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentcoord/runtime/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/002_composition_log.sql
var migration002 string

//go:embed migrations/003_external_io.sql
var migration003 string

// DefaultWaitBudget is the bounded wait applied to every Store call per
// spec.md §4.1 (default 5s).
const DefaultWaitBudget = 5 * time.Second

// ErrStoreUnavailable is returned when a Store call exceeds its wait
// budget or the underlying connection pool cannot service the request.
var ErrStoreUnavailable = errors.New("store: unavailable")

// DB wraps a pooled SQLite connection with the schema and migration
// lifecycle described in spec.md §4.1 ("Schema Evolution").
type DB struct {
	conn *sql.DB
	log  *logging.Logger
}

// Open opens (creating if necessary) the SQLite-backed coordination
// database at path, applies the schema and any pending migrations, and
// configures the connection pool the way internal/memory.NewMemoryDB does
// in the teacher project.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create data directory: %w", err)
			}
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	db := &DB{conn: conn, log: logging.New("STORE")}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	var version int
	err := db.conn.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 2 {
		db.log.Printf("running migration to v2: composition log")
		if _, err := db.conn.Exec(migration002); err != nil {
			return fmt.Errorf("run migration 002: %w", err)
		}
	}

	if version < 3 {
		db.log.Printf("running migration to v3: external I/O contracts")
		if _, err := db.conn.Exec(migration003); err != nil {
			return fmt.Errorf("run migration 003: %w", err)
		}
	}

	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Raw exposes the underlying *sql.DB for callers that need direct
// access.
func (db *DB) Raw() *sql.DB {
	return db.conn
}

// budgeted wraps ctx with the default wait budget if the caller supplied
// none, matching the "every call carries a bounded wait budget" contract.
func (db *DB) budgeted(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultWaitBudget)
}

// Execute runs a statement with the bounded wait budget, translating any
// deadline-exceeded error into ErrStoreUnavailable.
func (db *DB) Execute(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	cctx, cancel := db.budgeted(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(cctx, stmt, args...)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return res, nil
}

// Query runs a query with the bounded wait budget.
func (db *DB) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	cctx, cancel := db.budgeted(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(cctx, stmt, args...)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return rows, nil
}

// QueryRow runs a single-row query with the bounded wait budget.
func (db *DB) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	cctx, cancel := db.budgeted(ctx)
	defer cancel()
	return db.conn.QueryRowContext(cctx, stmt, args...)
}

// Tx runs fn within a transaction, rolling back on error or panic. SQLite
// in WAL mode with a busy timeout gives serializable-or-better semantics
// for the single-writer invariants the spec requires (FileClaim take-over,
// CircuitState read-modify-write).
func (db *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	cctx, cancel := db.budgeted(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(cctx, nil)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return ErrStoreUnavailable
		}
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// NullString converts an empty string to an absent column value, matching
// the teacher's memory.nullString helper.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullTime converts a *time.Time to sql.NullTime.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// NullInt64 converts a *int to sql.NullInt64.
func NullInt64(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
