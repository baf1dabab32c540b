// Package memory provides in-memory store implementations for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/ledger"
)

// =============================================================================
// LEDGER STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Ledger struct {
	mu      sync.RWMutex
	records []ledger.AllocationRecord
	index   map[string]int
	pools   map[ledger.ItemKey]ledger.StockPool
}

var _ ledger.TxStore = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		index: make(map[string]int),
		pools: make(map[ledger.ItemKey]ledger.StockPool),
	}
}

func (m *Ledger) AppendRecords(_ context.Context, recs []ledger.AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(recs)
}

// appendLocked checks every id before writing any.
func (m *Ledger) appendLocked(recs []ledger.AllocationRecord) error {
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if _, ok := m.index[r.ID]; ok || seen[r.ID] {
			return fmt.Errorf("%w: allocation record %s", core.ErrAlreadyExists, r.ID)
		}
		seen[r.ID] = true
	}
	for _, r := range recs {
		m.index[r.ID] = len(m.records)
		m.records = append(m.records, r.Clone())
	}
	return nil
}

func (m *Ledger) GetRecord(_ context.Context, id string) (ledger.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Ledger) getLocked(id string) (ledger.AllocationRecord, error) {
	i, ok := m.index[id]
	if !ok {
		return ledger.AllocationRecord{}, core.NotFound("allocation record", id)
	}
	return m.records[i].Clone(), nil
}

func (m *Ledger) ListRecords(_ context.Context, f ledger.RecordFilter) ([]ledger.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Ledger) listLocked(f ledger.RecordFilter) []ledger.AllocationRecord {
	var out []ledger.AllocationRecord
	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Ledger) UpdateRecord(_ context.Context, id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, fn)
}

func (m *Ledger) updateLocked(id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	i, ok := m.index[id]
	if !ok {
		return ledger.AllocationRecord{}, core.NotFound("allocation record", id)
	}
	work := m.records[i].Clone()
	if err := fn(&work); err != nil {
		return ledger.AllocationRecord{}, err
	}
	m.records[i] = work
	return work.Clone(), nil
}

func (m *Ledger) UpdateRecords(_ context.Context, f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateManyLocked(f, fn)
}

// updateManyLocked is all-or-nothing: changes are staged and only written
// once fn has succeeded for every match.
func (m *Ledger) updateManyLocked(f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	staged := make(map[int]ledger.AllocationRecord)
	matched := 0
	for i, r := range m.records {
		if !f.Match(r) {
			continue
		}
		matched++
		work := r.Clone()
		changed, err := fn(&work)
		if err != nil {
			return 0, err
		}
		if changed {
			staged[i] = work
		}
	}
	for i, r := range staged {
		m.records[i] = r
	}
	return matched, nil
}

func (m *Ledger) GetPool(_ context.Context, key ledger.ItemKey) (ledger.StockPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPoolLocked(key)
}

func (m *Ledger) getPoolLocked(key ledger.ItemKey) (ledger.StockPool, error) {
	p, ok := m.pools[key]
	if !ok {
		return ledger.StockPool{}, core.NotFound("stock pool", key.String())
	}
	return p, nil
}

func (m *Ledger) SavePool(_ context.Context, p ledger.StockPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.Item] = p
	return nil
}

func (m *Ledger) ListPools(_ context.Context) ([]ledger.StockPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPoolsLocked(), nil
}

func (m *Ledger) listPoolsLocked() []ledger.StockPool {
	out := make([]ledger.StockPool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.String() < out[j].Item.String() })
	return out
}

// Reset drops everything. Used by the demo scenario loader.
func (m *Ledger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.index = make(map[string]int)
	m.pools = make(map[ledger.ItemKey]ledger.StockPool)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Ledger) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txLedgerView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type ledgerSnapshot struct {
	records []ledger.AllocationRecord
	index   map[string]int
	pools   map[ledger.ItemKey]ledger.StockPool
}

func (m *Ledger) snapshot() ledgerSnapshot {
	s := ledgerSnapshot{
		records: make([]ledger.AllocationRecord, len(m.records)),
		index:   make(map[string]int, len(m.index)),
		pools:   make(map[ledger.ItemKey]ledger.StockPool, len(m.pools)),
	}
	for i, r := range m.records {
		s.records[i] = r.Clone()
	}
	for k, v := range m.index {
		s.index[k] = v
	}
	for k, v := range m.pools {
		s.pools[k] = v
	}
	return s
}

func (m *Ledger) restore(s ledgerSnapshot) {
	m.records = s.records
	m.index = s.index
	m.pools = s.pools
}

// txLedgerView reads and writes the parent while WithTx holds its lock.
type txLedgerView struct {
	parent *Ledger
}

func (tv *txLedgerView) AppendRecords(_ context.Context, recs []ledger.AllocationRecord) error {
	return tv.parent.appendLocked(recs)
}

func (tv *txLedgerView) GetRecord(_ context.Context, id string) (ledger.AllocationRecord, error) {
	return tv.parent.getLocked(id)
}

func (tv *txLedgerView) ListRecords(_ context.Context, f ledger.RecordFilter) ([]ledger.AllocationRecord, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txLedgerView) UpdateRecord(_ context.Context, id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	return tv.parent.updateLocked(id, fn)
}

func (tv *txLedgerView) UpdateRecords(_ context.Context, f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	return tv.parent.updateManyLocked(f, fn)
}

func (tv *txLedgerView) GetPool(_ context.Context, key ledger.ItemKey) (ledger.StockPool, error) {
	return tv.parent.getPoolLocked(key)
}

func (tv *txLedgerView) SavePool(_ context.Context, p ledger.StockPool) error {
	tv.parent.pools[p.Item] = p
	return nil
}

func (tv *txLedgerView) ListPools(_ context.Context) ([]ledger.StockPool, error) {
	return tv.parent.listPoolsLocked(), nil
}
