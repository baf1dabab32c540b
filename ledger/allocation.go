/*
allocation.go - Allocation ledger service

PURPOSE:
  Orchestrates every write to the ledger:
  1. Pool configuration (Admin only)
  2. Create: one logical allocation to N recipients
  3. RecordUsage: a recipient consumes part of its share

CREATE FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │ validate ─▶ resolve actors ─▶ lock(assigner,item) ─▶ BEGIN TX    │
  │                                                   │              │
  │      derive available ◀──────────────────────────┘              │
  │            │                                                     │
  │            ├─ root level: debit pool (StockPoolExhausted)        │
  │            ├─ Σ qty > available (InsufficientStock)              │
  │            └─ append record(s) ─▶ COMMIT ─▶ unlock               │
  └──────────────────────────────────────────────────────────────────┘

SERIALIZING BOUNDARY:
  Availability is derived, so two allocations from the same actor must not
  both observe the same balance. Create holds a lock keyed on
  (assigner, item) around derive-and-append. Usage holds the same key for
  the recipient, since consuming stock also lowers what the recipient can
  pass on. Root allocations lock the pool key: every admin draws from it.

  If the lock cannot be obtained the operation fails with
  ErrConcurrentModification and is retried up to MaxRetries times.

ALL-OR-NOTHING:
  In split mode (one record per recipient) every record is appended in the
  same transaction. Recipient problems are collected and reported together
  in a core.ValidationError before anything is written.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/lock"
)

// =============================================================================
// INPUTS
// =============================================================================

type RecipientInput struct {
	ActorCode core.ActorCode `json:"actor_code" validate:"required"`
	Qty       core.Quantity  `json:"qty" validate:"gt=0"`
}

// CreateInput describes one logical allocation.
type CreateInput struct {
	AssignerCode core.ActorCode   `json:"assigner_code" validate:"required"`
	Item         ItemKey          `json:"item"`
	Recipients   []RecipientInput `json:"recipients" validate:"required,min=1,dive"`
	Purpose      string           `json:"purpose" validate:"required"`

	// ParentPath is the path of the allocation the assigner is spending
	// from. Empty for root allocations.
	ParentPath core.HierarchyPath `json:"parent_path"`

	// Split stores one record per recipient instead of one record with
	// every recipient. Stock derivation is identical either way.
	Split bool `json:"split"`
}

type UsageInput struct {
	RecordID      string         `json:"record_id" validate:"required"`
	RecipientCode core.ActorCode `json:"recipient_code" validate:"required"`
	Ref           string         `json:"ref" validate:"required"`
	Qty           core.Quantity  `json:"qty" validate:"gt=0"`
}

type UsageResult struct {
	Record    AllocationRecord
	Entry     UsageEntry
	Remaining core.Quantity
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

type Ledger struct {
	store      TxStore
	directory  core.Directory
	locker     core.Locker
	clock      core.Clock
	newID      core.IDGenerator
	logger     *zap.Logger
	maxRetries int
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option { return func(s *Ledger) { s.logger = l } }

func WithClock(c core.Clock) Option { return func(s *Ledger) { s.clock = c } }

func WithLocker(l core.Locker) Option { return func(s *Ledger) { s.locker = l } }

func WithIDGenerator(g core.IDGenerator) Option { return func(s *Ledger) { s.newID = g } }

// WithMaxRetries bounds automatic retries on ErrConcurrentModification.
func WithMaxRetries(n int) Option { return func(s *Ledger) { s.maxRetries = n } }

// NewLedger builds a ledger. A locker is required for correctness under
// concurrency; callers that do not supply one get an in-process mutex
// per key.
func NewLedger(store TxStore, dir core.Directory, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		directory:  dir,
		clock:      core.SystemClock{},
		newID:      core.NewID,
		logger:     zap.NewNop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.locker == nil {
		l.locker = lock.NewLocal()
	}
	return l
}

// Stock returns an engine reading committed state.
func (l *Ledger) Stock() *StockEngine { return &StockEngine{Store: l.store} }

func (l *Ledger) Directory() core.Directory { return l.directory }

// =============================================================================
// STOCK POOL
// =============================================================================

// ConfigurePool creates the pool for an item key. Admin only.
func (l *Ledger) ConfigurePool(ctx context.Context, adminCode core.ActorCode, item ItemKey, opening core.Quantity) (StockPool, error) {
	if err := core.Validate(item); err != nil {
		return StockPool{}, err
	}
	if opening < 0 {
		return StockPool{}, core.NewValidationError("opening", "must not be negative")
	}
	if _, err := core.ResolveWithRole(ctx, l.directory, adminCode, core.RoleAdmin); err != nil {
		return StockPool{}, err
	}

	var pool StockPool
	err := l.locked(ctx, poolLockKey(item), func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			if _, err := tx.GetPool(ctx, item); err == nil {
				return fmt.Errorf("%w: stock pool %s", core.ErrAlreadyExists, item)
			} else if !core.IsNotFound(err) {
				return err
			}
			now := l.clock.Now()
			pool = StockPool{Item: item, Opening: opening, CreatedAt: now, UpdatedAt: now}
			return tx.SavePool(ctx, pool)
		})
	})
	if err != nil {
		return StockPool{}, err
	}

	l.logger.Info("stock pool configured",
		zap.String("item", item.String()),
		zap.Int64("opening", int64(opening)),
		zap.String("admin", adminCode.String()))
	return pool, nil
}

// AdjustPoolOpening changes the opening quantity. It can never drop below
// what has already been issued.
func (l *Ledger) AdjustPoolOpening(ctx context.Context, adminCode core.ActorCode, item ItemKey, opening core.Quantity) (StockPool, error) {
	if _, err := core.ResolveWithRole(ctx, l.directory, adminCode, core.RoleAdmin); err != nil {
		return StockPool{}, err
	}

	var pool StockPool
	err := l.locked(ctx, poolLockKey(item), func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			p, err := tx.GetPool(ctx, item)
			if err != nil {
				return err
			}
			if opening < p.Issued {
				return core.NewValidationError("opening", fmt.Sprintf("must be at least issued quantity %d", p.Issued))
			}
			p.Opening = opening
			p.UpdatedAt = l.clock.Now()
			pool = p
			return tx.SavePool(ctx, p)
		})
	})
	return pool, err
}

func (l *Ledger) Pool(ctx context.Context, item ItemKey) (StockPool, error) {
	return l.store.GetPool(ctx, item)
}

func (l *Ledger) Pools(ctx context.Context) ([]StockPool, error) {
	return l.store.ListPools(ctx)
}

// =============================================================================
// CREATE
// =============================================================================

// Create records an allocation from the assigner to the recipients and
// returns the stored record(s).
func (l *Ledger) Create(ctx context.Context, in CreateInput) ([]AllocationRecord, error) {
	if err := core.Validate(in); err != nil {
		return nil, err
	}

	assigner, err := l.directory.Resolve(ctx, in.AssignerCode)
	if err != nil {
		return nil, err
	}
	level, ok := assigner.Role.Level()
	if !ok {
		return nil, core.Forbidden("%s (%s) cannot allocate stock", assigner.Code, assigner.Role)
	}

	recipients, err := l.resolveRecipients(ctx, assigner, in.Recipients)
	if err != nil {
		return nil, err
	}

	allocationID := l.newID(core.IDPrefix(level))
	path, err := in.ParentPath.Extend(level, allocationID)
	if err != nil {
		return nil, core.NewValidationError("parent_path", err.Error())
	}

	purpose := ParsePurpose(in.Purpose)
	var requested core.Quantity
	for _, r := range recipients {
		requested += r.Qty
	}

	key := stockLockKey(assigner.Code, in.Item)
	if level == core.LevelRoot {
		key = poolLockKey(in.Item)
	}

	var created []AllocationRecord
	err = l.locked(ctx, key, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			now := l.clock.Now()

			if level == core.LevelRoot {
				pool, err := tx.GetPool(ctx, in.Item)
				if err != nil {
					return err
				}
				if err := pool.Debit(requested, now); err != nil {
					return err
				}
				if err := tx.SavePool(ctx, pool); err != nil {
					return err
				}
			}

			engine := &StockEngine{Store: tx}
			pos, err := engine.Position(ctx, assigner, in.Item)
			if err != nil {
				return err
			}
			if requested > pos.Available {
				return &core.InsufficientStockError{
					Actor:     assigner.Code,
					Item:      in.Item.String(),
					Available: pos.Available,
					Requested: requested,
				}
			}

			created = l.buildRecords(assigner, level, allocationID, path, in, purpose, recipients, now)
			return tx.AppendRecords(ctx, created)
		})
	})
	if err != nil {
		if core.IsBusinessRule(err) {
			l.logger.Info("allocation rejected",
				zap.String("assigner", assigner.Code.String()),
				zap.String("item", in.Item.String()),
				zap.Int64("requested", int64(requested)),
				zap.Error(err))
		}
		return nil, err
	}

	l.logger.Info("allocation created",
		zap.String("allocation_id", allocationID),
		zap.String("path", path.String()),
		zap.String("assigner", assigner.Code.String()),
		zap.String("item", in.Item.String()),
		zap.Int64("qty", int64(requested)),
		zap.Int("records", len(created)))
	return created, nil
}

func (l *Ledger) buildRecords(
	assigner core.Actor,
	level core.Level,
	allocationID string,
	path core.HierarchyPath,
	in CreateInput,
	purpose Purpose,
	recipients []RecipientEntry,
	now time.Time,
) []AllocationRecord {
	base := AllocationRecord{
		AllocationID:   allocationID,
		Path:           path,
		Level:          level,
		Item:           in.Item,
		Purpose:        purpose,
		PurposeNote:    in.Purpose,
		VendorEligible: purpose.VendorEligible(),
		AssignedBy:     assigner.Code,
		AssignedByRole: assigner.Role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if !in.Split {
		rec := base.Clone()
		rec.ID = allocationID
		rec.Recipients = recipients
		return []AllocationRecord{rec}
	}

	out := make([]AllocationRecord, 0, len(recipients))
	for _, r := range recipients {
		rec := base.Clone()
		rec.ID = l.newID("REC")
		rec.Recipients = []RecipientEntry{r}
		out = append(out, rec)
	}
	return out
}

// resolveRecipients checks every recipient and reports all failures at once.
func (l *Ledger) resolveRecipients(ctx context.Context, assigner core.Actor, in []RecipientInput) ([]RecipientEntry, error) {
	verr := &core.ValidationError{Message: "allocation rejected"}
	seen := make(map[core.ActorCode]bool, len(in))
	out := make([]RecipientEntry, 0, len(in))

	for _, r := range in {
		if seen[r.ActorCode] {
			verr.AddRecipient(r.ActorCode, "listed more than once")
			continue
		}
		seen[r.ActorCode] = true

		if r.ActorCode == assigner.Code {
			verr.AddRecipient(r.ActorCode, "cannot allocate to self")
			continue
		}

		actor, err := l.directory.Resolve(ctx, r.ActorCode)
		if err != nil {
			if core.IsNotFound(err) {
				verr.AddRecipient(r.ActorCode, "unknown actor")
				continue
			}
			return nil, err
		}
		if !assigner.Role.Above(actor.Role) {
			verr.AddRecipient(r.ActorCode, fmt.Sprintf("%s cannot receive from %s", actor.Role, assigner.Role))
			continue
		}
		if assigner.Role != core.RoleAdmin && !actor.ReportsTo(assigner.Code) {
			verr.AddRecipient(r.ActorCode, "does not report to "+assigner.Code.String())
			continue
		}

		out = append(out, RecipientEntry{ActorCode: actor.Code, Name: actor.Name, Qty: r.Qty})
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// USAGE SUB-LEDGER
// =============================================================================

// RecordUsage appends a usage entry to the recipient's share of a record.
//
// The quantity is bounded by the entry's remaining share and by the
// recipient's overall available stock for the item (stock it already
// passed on cannot also be consumed).
func (l *Ledger) RecordUsage(ctx context.Context, in UsageInput) (UsageResult, error) {
	if err := core.Validate(in); err != nil {
		return UsageResult{}, err
	}

	rec, err := l.store.GetRecord(ctx, in.RecordID)
	if err != nil {
		return UsageResult{}, err
	}
	if e, _ := rec.Recipient(in.RecipientCode); e == nil {
		return UsageResult{}, core.NotFound("recipient on record "+in.RecordID, in.RecipientCode.String())
	}

	recipient, err := l.directory.Resolve(ctx, in.RecipientCode)
	if err != nil {
		return UsageResult{}, err
	}

	var result UsageResult
	err = l.locked(ctx, stockLockKey(recipient.Code, rec.Item), func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			engine := &StockEngine{Store: tx}
			pos, err := engine.Position(ctx, recipient, rec.Item)
			if err != nil {
				return err
			}

			updated, err := tx.UpdateRecord(ctx, in.RecordID, func(r *AllocationRecord) error {
				entry, _ := r.Recipient(in.RecipientCode)
				if entry == nil {
					return core.NotFound("recipient on record "+in.RecordID, in.RecipientCode.String())
				}

				allowed := entry.Remaining()
				if pos.Available < allowed {
					allowed = pos.Available
				}
				if allowed < 0 {
					allowed = 0
				}
				if in.Qty > allowed {
					return &core.UsageExceedsAvailableError{
						RecordID:  in.RecordID,
						Recipient: in.RecipientCode,
						Remaining: allowed,
						Requested: in.Qty,
					}
				}

				now := l.clock.Now()
				usage := UsageEntry{
					ID:     l.newID("USE"),
					Ref:    in.Ref,
					Qty:    in.Qty,
					UsedBy: in.RecipientCode,
					UsedAt: now,
				}
				entry.UsedSamples = append(entry.UsedSamples, usage)
				entry.UsedQty += in.Qty
				r.UpdatedAt = now

				result.Entry = usage
				result.Remaining = entry.Remaining()
				return nil
			})
			if err != nil {
				return err
			}
			result.Record = updated
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, core.ErrUsageExceedsAvailable) {
			l.logger.Info("usage rejected",
				zap.String("record_id", in.RecordID),
				zap.String("recipient", in.RecipientCode.String()),
				zap.Int64("qty", int64(in.Qty)),
				zap.Error(err))
		}
		return UsageResult{}, err
	}

	l.logger.Info("usage recorded",
		zap.String("record_id", in.RecordID),
		zap.String("recipient", in.RecipientCode.String()),
		zap.String("ref", in.Ref),
		zap.Int64("qty", int64(in.Qty)),
		zap.Int64("remaining", int64(result.Remaining)))
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *Ledger) Record(ctx context.Context, id string) (AllocationRecord, error) {
	return l.store.GetRecord(ctx, id)
}

func (l *Ledger) Records(ctx context.Context, f RecordFilter) ([]AllocationRecord, error) {
	return l.store.ListRecords(ctx, f)
}

// =============================================================================
// LOCKING
// =============================================================================

func stockLockKey(actor core.ActorCode, item ItemKey) string {
	return core.LockKey("stock", actor.String(), item.String())
}

func poolLockKey(item ItemKey) string {
	return core.LockKey("pool", item.String())
}

// locked runs fn while holding key, retrying on ErrConcurrentModification.
func (l *Ledger) locked(ctx context.Context, key string, fn func() error) error {
	return core.WithRetry(ctx, l.maxRetries, func() error {
		unlock, err := l.locker.Lock(ctx, key)
		if err != nil {
			if !core.IsRetryable(err) {
				err = fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
			}
			l.logger.Warn("lock not obtained", zap.String("key", key), zap.Error(err))
			return err
		}
		defer unlock()
		return fn()
	})
}
