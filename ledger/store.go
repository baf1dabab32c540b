/*
store.go - Persistence interface for allocation records and stock pools

APPEND-MOSTLY CONTRACT:
  - AppendRecords(): the only way records come into existence
  - UpdateRecord()/UpdateRecords(): limited to dispatch fields and
    recipient usage; implementations apply fn atomically per record
  - NO Delete. History must survive for stock derivation to stay correct.

ATOMIC BOUNDARY:
  TxStore.WithTx runs the check-then-append sequence of an allocation:
  derive availability, debit the pool, append records. Either all of it
  is visible afterwards or none of it is.

IMPLEMENTATIONS:
  - store/memory: In-memory for tests and demos
  - store/sqlite: SQLite
*/
package ledger

import "context"

// Store handles persistence of allocation records and stock pools.
type Store interface {
	// AppendRecords persists records atomically. Fails if an id exists.
	AppendRecords(ctx context.Context, recs []AllocationRecord) error

	// GetRecord returns a record or a core.NotFoundError.
	GetRecord(ctx context.Context, id string) (AllocationRecord, error)

	// ListRecords returns matching records ordered by CreatedAt.
	ListRecords(ctx context.Context, f RecordFilter) ([]AllocationRecord, error)

	// UpdateRecord loads the record, applies fn and saves it atomically.
	// If fn returns an error nothing is written.
	UpdateRecord(ctx context.Context, id string, fn func(*AllocationRecord) error) (AllocationRecord, error)

	// UpdateRecords applies fn to every matching record. fn returns
	// whether it changed the record. Returns the number of matched records.
	UpdateRecords(ctx context.Context, f RecordFilter, fn func(*AllocationRecord) (bool, error)) (int, error)

	// GetPool returns the pool for key or a core.NotFoundError.
	GetPool(ctx context.Context, key ItemKey) (StockPool, error)

	// SavePool inserts or replaces the pool.
	SavePool(ctx context.Context, p StockPool) error

	ListPools(ctx context.Context) ([]StockPool, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
