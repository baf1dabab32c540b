package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/ledger"
)

// =============================================================================
// ALLOCATION RECORDS (ledger.Store interface)
// =============================================================================

const recordColumns = `
	id, allocation_id, level, path_json, item_name, item_year, item_lot,
	purpose, purpose_note, vendor_eligible, assigned_by, assigned_by_role,
	recipients_json, to_vendor, dispatched_at, dispatched_by, lr_number,
	lr_updated_at, pod_visible, pod_updated_at, created_at, updated_at`

// recipientRow is the immutable part of a recipient entry. Usage lives in
// usage_entries.
type recipientRow struct {
	ActorCode core.ActorCode `json:"actor_code"`
	Name      string         `json:"name"`
	Qty       core.Quantity  `json:"qty"`
}

func (s *Store) AppendRecords(ctx context.Context, recs []ledger.AllocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return appendRecords(ctx, tx, recs)
	})
}

func appendRecords(ctx context.Context, q querier, recs []ledger.AllocationRecord) error {
	for _, r := range recs {
		if err := insertRecord(ctx, q, r); err != nil {
			return err
		}
	}
	return nil
}

func insertRecord(ctx context.Context, q querier, r ledger.AllocationRecord) error {
	pathJSON, err := json.Marshal(r.Path)
	if err != nil {
		return fmt.Errorf("failed to encode path: %w", err)
	}
	rows := make([]recipientRow, len(r.Recipients))
	for i, e := range r.Recipients {
		rows[i] = recipientRow{ActorCode: e.ActorCode, Name: e.Name, Qty: e.Qty}
	}
	recipientsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	query := `
		INSERT INTO allocation_records
		(id, allocation_id, level, root_id, rm_id, bm_id, manager_id, path_json,
		 item_name, item_year, item_lot, purpose, purpose_note, vendor_eligible,
		 assigned_by, assigned_by_role, recipients_json, to_vendor, dispatched_at,
		 dispatched_by, lr_number, lr_updated_at, pod_visible, pod_updated_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		r.ID, r.AllocationID, r.Level,
		r.Path.Root(),
		nullString(r.Path.IDAt(core.LevelRegional)),
		nullString(r.Path.IDAt(core.LevelBranch)),
		nullString(r.Path.IDAt(core.LevelManager)),
		string(pathJSON),
		r.Item.Name, r.Item.Year, r.Item.Lot,
		r.Purpose, nullString(r.PurposeNote), boolInt(r.VendorEligible),
		r.AssignedBy, r.AssignedByRole, string(recipientsJSON),
		boolInt(r.Dispatch.ToVendor), nullTime(r.Dispatch.DispatchedAt),
		nullString(string(r.Dispatch.DispatchedBy)), nullString(r.Dispatch.LRNumber),
		nullTime(r.Dispatch.LRUpdatedAt), boolInt(r.Dispatch.PODUpdatedForEmployee),
		nullTime(r.Dispatch.PODUpdatedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: allocation record %s", core.ErrAlreadyExists, r.ID)
		}
		return fmt.Errorf("failed to append allocation record: %w", err)
	}

	for _, e := range r.Recipients {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO allocation_recipients (record_id, actor_code) VALUES (?, ?)",
			r.ID, e.ActorCode,
		); err != nil {
			return fmt.Errorf("failed to index recipient: %w", err)
		}
		for _, u := range e.UsedSamples {
			if err := insertUsage(ctx, q, r.ID, u); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertUsage(ctx context.Context, q querier, recordID string, u ledger.UsageEntry) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO usage_entries (id, record_id, actor_code, ref, qty, used_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.ID, recordID, u.UsedBy, u.Ref, u.Qty, formatTime(u.UsedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append usage entry: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (ledger.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, q querier, id string) (ledger.AllocationRecord, error) {
	recs, err := queryRecords(ctx, q, "SELECT "+recordColumns+" FROM allocation_records WHERE id = ?", id)
	if err != nil {
		return ledger.AllocationRecord{}, err
	}
	if len(recs) == 0 {
		return ledger.AllocationRecord{}, core.NotFound("allocation record", id)
	}
	return recs[0], nil
}

func (s *Store) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]ledger.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRecords(ctx, s.db, f)
}

// listRecords narrows in SQL and then applies f.Match, so the result is
// exactly what the in-memory store returns.
func listRecords(ctx context.Context, q querier, f ledger.RecordFilter) ([]ledger.AllocationRecord, error) {
	where, args := recordWhere(f)
	query := "SELECT " + recordColumns + " FROM allocation_records"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at ASC, id ASC"

	recs, err := queryRecords(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

var levelColumn = map[core.Level]string{
	core.LevelRoot:     "root_id",
	core.LevelRegional: "rm_id",
	core.LevelBranch:   "bm_id",
	core.LevelManager:  "manager_id",
}

func recordWhere(f ledger.RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Involving != "" {
		conds = append(conds, "(assigned_by = ? OR id IN (SELECT record_id FROM allocation_recipients WHERE actor_code = ?))")
		args = append(args, f.Involving, f.Involving)
	}
	if f.AssignedBy != "" {
		conds = append(conds, "assigned_by = ?")
		args = append(args, f.AssignedBy)
	}
	if f.Recipient != "" {
		conds = append(conds, "id IN (SELECT record_id FROM allocation_recipients WHERE actor_code = ?)")
		args = append(args, f.Recipient)
	}
	if f.Item != nil {
		conds = append(conds, "item_name = ? AND item_year = ? AND item_lot = ?")
		args = append(args, f.Item.Name, f.Item.Year, f.Item.Lot)
	}
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, f.Level)
	}
	if f.HierarchyID != "" {
		levels := f.HierarchyLevels
		if len(levels) == 0 {
			levels = []core.Level{core.LevelRoot, core.LevelRegional, core.LevelBranch, core.LevelManager}
		}
		var ors []string
		for _, l := range levels {
			if col, ok := levelColumn[l]; ok {
				ors = append(ors, col+" = ?")
				args = append(args, f.HierarchyID)
			}
		}
		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if f.ToVendor != nil {
		conds = append(conds, "to_vendor = ?")
		args = append(args, boolInt(*f.ToVendor))
	}
	return strings.Join(conds, " AND "), args
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]ledger.AllocationRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation records: %w", err)
	}

	var recs []ledger.AllocationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := loadUsage(ctx, q, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (ledger.AllocationRecord, error) {
	var (
		r              ledger.AllocationRecord
		pathJSON       string
		recipientsJSON string
		purposeNote    sql.NullString
		vendorEligible int
		toVendor       int
		dispatchedAt   sql.NullString
		dispatchedBy   sql.NullString
		lrNumber       sql.NullString
		lrUpdatedAt    sql.NullString
		podVisible     int
		podUpdatedAt   sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := rows.Scan(
		&r.ID, &r.AllocationID, &r.Level, &pathJSON,
		&r.Item.Name, &r.Item.Year, &r.Item.Lot,
		&r.Purpose, &purposeNote, &vendorEligible, &r.AssignedBy, &r.AssignedByRole,
		&recipientsJSON, &toVendor, &dispatchedAt, &dispatchedBy, &lrNumber,
		&lrUpdatedAt, &podVisible, &podUpdatedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan allocation record: %w", err)
	}

	if err := json.Unmarshal([]byte(pathJSON), &r.Path); err != nil {
		return r, fmt.Errorf("failed to decode path of %s: %w", r.ID, err)
	}
	var recipients []recipientRow
	if err := json.Unmarshal([]byte(recipientsJSON), &recipients); err != nil {
		return r, fmt.Errorf("failed to decode recipients of %s: %w", r.ID, err)
	}
	r.Recipients = make([]ledger.RecipientEntry, len(recipients))
	for i, e := range recipients {
		r.Recipients[i] = ledger.RecipientEntry{ActorCode: e.ActorCode, Name: e.Name, Qty: e.Qty}
	}

	r.PurposeNote = purposeNote.String
	r.VendorEligible = vendorEligible == 1
	r.Dispatch = ledger.Dispatch{
		ToVendor:              toVendor == 1,
		DispatchedAt:          timePtr(dispatchedAt),
		DispatchedBy:          core.ActorCode(dispatchedBy.String),
		LRNumber:              lrNumber.String,
		LRUpdatedAt:           timePtr(lrUpdatedAt),
		PODUpdatedForEmployee: podVisible == 1,
		PODUpdatedAt:          timePtr(podUpdatedAt),
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// usageBatchSize keeps each IN (...) list well under SQLite's bound
// variable limit (999 on older builds).
const usageBatchSize = 500

// loadUsage fills UsedSamples and UsedQty from usage_entries.
func loadUsage(ctx context.Context, q querier, recs []ledger.AllocationRecord) error {
	byID := make(map[string]int, len(recs))
	for i, r := range recs {
		byID[r.ID] = i
	}
	for start := 0; start < len(recs); start += usageBatchSize {
		end := min(start+usageBatchSize, len(recs))
		if err := loadUsageBatch(ctx, q, recs, byID, recs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func loadUsageBatch(ctx context.Context, q querier, recs []ledger.AllocationRecord, byID map[string]int, batch []ledger.AllocationRecord) error {
	args := make([]any, len(batch))
	for i, r := range batch {
		args[i] = r.ID
	}

	rows, err := q.QueryContext(ctx,
		"SELECT id, record_id, actor_code, ref, qty, used_at FROM usage_entries WHERE record_id IN ("+
			placeholders(len(args))+") ORDER BY used_at ASC, id ASC",
		args...)
	if err != nil {
		return fmt.Errorf("failed to query usage entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u        ledger.UsageEntry
			recordID string
			usedAt   string
		)
		if err := rows.Scan(&u.ID, &recordID, &u.UsedBy, &u.Ref, &u.Qty, &usedAt); err != nil {
			return fmt.Errorf("failed to scan usage entry: %w", err)
		}
		u.UsedAt = parseTime(usedAt)

		rec := &recs[byID[recordID]]
		if e, _ := rec.Recipient(u.UsedBy); e != nil {
			e.UsedSamples = append(e.UsedSamples, u)
			e.UsedQty += u.Qty
		}
	}
	return rows.Err()
}

func (s *Store) UpdateRecord(ctx context.Context, id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out ledger.AllocationRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = updateRecord(ctx, tx, id, fn)
		return err
	})
	return out, err
}

func updateRecord(ctx context.Context, q querier, id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	old, err := getRecord(ctx, q, id)
	if err != nil {
		return ledger.AllocationRecord{}, err
	}
	work := old.Clone()
	if err := fn(&work); err != nil {
		return ledger.AllocationRecord{}, err
	}
	if err := saveRecord(ctx, q, old, work); err != nil {
		return ledger.AllocationRecord{}, err
	}
	return work, nil
}

// saveRecord writes the mutable parts of a record: dispatch columns and
// new usage entries. Anything else fn may have touched is ignored.
func saveRecord(ctx context.Context, q querier, old, r ledger.AllocationRecord) error {
	_, err := q.ExecContext(ctx, `
		UPDATE allocation_records SET
			to_vendor = ?, dispatched_at = ?, dispatched_by = ?,
			lr_number = ?, lr_updated_at = ?,
			pod_visible = ?, pod_updated_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		boolInt(r.Dispatch.ToVendor), nullTime(r.Dispatch.DispatchedAt),
		nullString(string(r.Dispatch.DispatchedBy)),
		nullString(r.Dispatch.LRNumber), nullTime(r.Dispatch.LRUpdatedAt),
		boolInt(r.Dispatch.PODUpdatedForEmployee), nullTime(r.Dispatch.PODUpdatedAt),
		formatTime(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation record: %w", err)
	}

	known := make(map[string]bool)
	for _, e := range old.Recipients {
		for _, u := range e.UsedSamples {
			known[u.ID] = true
		}
	}
	for _, e := range r.Recipients {
		for _, u := range e.UsedSamples {
			if known[u.ID] {
				continue
			}
			if err := insertUsage(ctx, q, r.ID, u); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) UpdateRecords(ctx context.Context, f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = updateRecords(ctx, tx, f, fn)
		return err
	})
	return n, err
}

func updateRecords(ctx context.Context, q querier, f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	recs, err := listRecords(ctx, q, f)
	if err != nil {
		return 0, err
	}
	for _, old := range recs {
		work := old.Clone()
		changed, err := fn(&work)
		if err != nil {
			return 0, err
		}
		if !changed {
			continue
		}
		if err := saveRecord(ctx, q, old, work); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// =============================================================================
// STOCK POOLS
// =============================================================================

func (s *Store) GetPool(ctx context.Context, key ledger.ItemKey) (ledger.StockPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPool(ctx, s.db, key)
}

func getPool(ctx context.Context, q querier, key ledger.ItemKey) (ledger.StockPool, error) {
	var (
		p         = ledger.StockPool{Item: key}
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT opening, issued, created_at, updated_at FROM stock_pools
		WHERE item_name = ? AND item_year = ? AND item_lot = ?
	`, key.Name, key.Year, key.Lot).Scan(&p.Opening, &p.Issued, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StockPool{}, core.NotFound("stock pool", key.String())
	}
	if err != nil {
		return ledger.StockPool{}, fmt.Errorf("failed to get stock pool: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (s *Store) SavePool(ctx context.Context, p ledger.StockPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePool(ctx, s.db, p)
}

func savePool(ctx context.Context, q querier, p ledger.StockPool) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_pools (item_name, item_year, item_lot, opening, issued, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_name, item_year, item_lot) DO UPDATE SET
			opening = excluded.opening,
			issued = excluded.issued,
			updated_at = excluded.updated_at
	`, p.Item.Name, p.Item.Year, p.Item.Lot, p.Opening, p.Issued, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save stock pool: %w", err)
	}
	return nil
}

func (s *Store) ListPools(ctx context.Context) ([]ledger.StockPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPools(ctx, s.db)
}

func listPools(ctx context.Context, q querier) ([]ledger.StockPool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_name, item_year, item_lot, opening, issued, created_at, updated_at
		FROM stock_pools ORDER BY item_name, item_year, item_lot
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock pools: %w", err)
	}
	defer rows.Close()

	var pools []ledger.StockPool
	for rows.Next() {
		var (
			p                    ledger.StockPool
			createdAt, updatedAt string
		)
		if err := rows.Scan(&p.Item.Name, &p.Item.Year, &p.Item.Lot, &p.Opening, &p.Issued, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock pool: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// =============================================================================
// TX VIEW
// =============================================================================

// txStore routes every call through the open transaction. It never takes
// the parent's mutex: WithTx already holds it.
type txStore struct {
	q querier
}

func (ts *txStore) AppendRecords(ctx context.Context, recs []ledger.AllocationRecord) error {
	return appendRecords(ctx, ts.q, recs)
}

func (ts *txStore) GetRecord(ctx context.Context, id string) (ledger.AllocationRecord, error) {
	return getRecord(ctx, ts.q, id)
}

func (ts *txStore) ListRecords(ctx context.Context, f ledger.RecordFilter) ([]ledger.AllocationRecord, error) {
	return listRecords(ctx, ts.q, f)
}

func (ts *txStore) UpdateRecord(ctx context.Context, id string, fn func(*ledger.AllocationRecord) error) (ledger.AllocationRecord, error) {
	return updateRecord(ctx, ts.q, id, fn)
}

func (ts *txStore) UpdateRecords(ctx context.Context, f ledger.RecordFilter, fn func(*ledger.AllocationRecord) (bool, error)) (int, error) {
	return updateRecords(ctx, ts.q, f, fn)
}

func (ts *txStore) GetPool(ctx context.Context, key ledger.ItemKey) (ledger.StockPool, error) {
	return getPool(ctx, ts.q, key)
}

func (ts *txStore) SavePool(ctx context.Context, p ledger.StockPool) error {
	return savePool(ctx, ts.q, p)
}

func (ts *txStore) ListPools(ctx context.Context) ([]ledger.StockPool, error) {
	return listPools(ctx, ts.q)
}
