/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the allocation ledger store, the revenue claim store and the
  actor directory on one SQLite database. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.TxStore:   Allocation records, usage entries, stock pools
  approval.Store:   Revenue claims
  core.Directory:   Actors and reporting lines

APPEND-MOSTLY ENFORCEMENT:
  - No DELETE statements on allocation_records or usage_entries
  - usage_entries is insert-only; a recipient's used quantity is the sum
    of its rows
  - UPDATE on allocation_records touches dispatch columns only

KEY TABLES:
  allocation_records:    One row per record, hierarchy path flattened
                         into root_id/rm_id/bm_id/manager_id
  allocation_recipients: (record, actor) index for per-actor queries
  usage_entries:         Consumption sub-ledger
  stock_pools:           Admin master quantity per item key
  revenue_claims:        Unique on (po_number, emp_code)
  actors:                Directory

INDEXES:
  - idx_records_item_assigner: stock derivation (hot path)
  - idx_recipients_actor:      stock derivation for receivers
  - idx_records_root/rm/bm:    POD cascade

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is shared by every caller and a transaction never
  races a plain read on another connection.

USAGE:
  store, err := sqlite.New("./data/allocations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store, store)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/allocation-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_pools (
		item_name TEXT NOT NULL,
		item_year INTEGER NOT NULL,
		item_lot TEXT NOT NULL DEFAULT '',
		opening INTEGER NOT NULL,
		issued INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (item_name, item_year, item_lot),
		CHECK (issued >= 0 AND issued <= opening)
	);

	CREATE TABLE IF NOT EXISTS allocation_records (
		id TEXT PRIMARY KEY,
		allocation_id TEXT NOT NULL,
		level TEXT NOT NULL,
		root_id TEXT NOT NULL,
		rm_id TEXT,
		bm_id TEXT,
		manager_id TEXT,
		path_json TEXT NOT NULL,
		item_name TEXT NOT NULL,
		item_year INTEGER NOT NULL,
		item_lot TEXT NOT NULL DEFAULT '',
		purpose TEXT NOT NULL,
		purpose_note TEXT,
		vendor_eligible INTEGER NOT NULL,
		assigned_by TEXT NOT NULL,
		assigned_by_role TEXT NOT NULL,
		recipients_json TEXT NOT NULL,
		to_vendor INTEGER NOT NULL DEFAULT 0,
		dispatched_at TEXT,
		dispatched_by TEXT,
		lr_number TEXT,
		lr_updated_at TEXT,
		pod_visible INTEGER NOT NULL DEFAULT 0,
		pod_updated_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_item_assigner
		ON allocation_records(item_name, item_year, item_lot, assigned_by);
	CREATE INDEX IF NOT EXISTS idx_records_allocation ON allocation_records(allocation_id);
	CREATE INDEX IF NOT EXISTS idx_records_root ON allocation_records(root_id);
	CREATE INDEX IF NOT EXISTS idx_records_rm ON allocation_records(rm_id) WHERE rm_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_bm ON allocation_records(bm_id) WHERE bm_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_to_vendor ON allocation_records(to_vendor) WHERE to_vendor = 1;

	CREATE TABLE IF NOT EXISTS allocation_recipients (
		record_id TEXT NOT NULL REFERENCES allocation_records(id),
		actor_code TEXT NOT NULL,
		PRIMARY KEY (record_id, actor_code)
	);

	CREATE INDEX IF NOT EXISTS idx_recipients_actor ON allocation_recipients(actor_code);

	CREATE TABLE IF NOT EXISTS usage_entries (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES allocation_records(id),
		actor_code TEXT NOT NULL,
		ref TEXT NOT NULL,
		qty INTEGER NOT NULL CHECK (qty > 0),
		used_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_record ON usage_entries(record_id, used_at);

	CREATE TABLE IF NOT EXISTS revenue_claims (
		id TEXT PRIMARY KEY,
		po_number TEXT NOT NULL,
		emp_code TEXT NOT NULL,
		manager_code TEXT,
		customer_ref TEXT NOT NULL,
		order_value TEXT NOT NULL,
		state TEXT NOT NULL,
		is_manual INTEGER NOT NULL DEFAULT 0,
		entered_by TEXT,
		approved_by TEXT,
		approved_at TEXT,
		submitted_by TEXT,
		submitted_at TEXT,
		submissions_json TEXT NOT NULL DEFAULT '[]',
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		document_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (po_number, emp_code)
	);

	CREATE INDEX IF NOT EXISTS idx_claims_manager ON revenue_claims(manager_code);
	CREATE INDEX IF NOT EXISTS idx_claims_state ON revenue_claims(state);

	CREATE TABLE IF NOT EXISTS actors (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		branch TEXT,
		region TEXT,
		parent_code TEXT,
		parent_codes_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_actors_parent ON actors(parent_code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{q: tx})
	})
}

// inTx runs fn in a transaction. Caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for demo purposes).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"usage_entries", "allocation_recipients", "allocation_records",
		"stock_pools", "revenue_claims", "actors",
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
