/*
dispatch.go - Vendor hand-off and proof of delivery

STATES:
  Created ──▶ EligibleForVendor ──▶ Dispatched

  EligibleForVendor is not stored. It follows from the purpose fixed when
  the record was created (project or marketing). Dispatched is the
  toVendor flag; once set it is never cleared and dispatching again is a
  no-op.

LR NUMBER:
  The lorry-receipt number can be written at any time after creation,
  independent of dispatch state. Last write wins; each write stamps
  LRUpdatedAt.

POD CASCADE:
  MarkPODVisible(id) flips podUpdatedForEmployee on every record whose
  path holds id at the root, rm or bm level, i.e. the whole subtree
  allocated out of that id. Records outside the subtree are untouched.
  The cascade is idempotent: a record already visible keeps its first
  timestamp.
*/
package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
)

type DispatchState string

const (
	StateCreated           DispatchState = "created"
	StateEligibleForVendor DispatchState = "eligible_for_vendor"
	StateDispatched        DispatchState = "dispatched"
)

// State derives the dispatch state of a record.
func (r AllocationRecord) State() DispatchState {
	switch {
	case r.Dispatch.ToVendor:
		return StateDispatched
	case r.VendorEligible:
		return StateEligibleForVendor
	default:
		return StateCreated
	}
}

// Dispatch hands a record to the vendor. Only the assigner of the record or
// an admin may dispatch.
func (l *Ledger) Dispatch(ctx context.Context, recordID string, actorCode core.ActorCode) (AllocationRecord, error) {
	actor, err := l.directory.Resolve(ctx, actorCode)
	if err != nil {
		return AllocationRecord{}, err
	}

	changed := false
	rec, err := l.store.UpdateRecord(ctx, recordID, func(r *AllocationRecord) error {
		if actor.Role != core.RoleAdmin && r.AssignedBy != actor.Code {
			return core.Forbidden("%s did not create record %s", actor.Code, r.ID)
		}
		if r.Dispatch.ToVendor {
			return nil
		}
		if !r.VendorEligible {
			return core.ErrNotEligibleForVendor
		}
		now := l.clock.Now()
		r.Dispatch.ToVendor = true
		r.Dispatch.DispatchedAt = &now
		r.Dispatch.DispatchedBy = actor.Code
		r.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return AllocationRecord{}, err
	}

	if changed {
		l.logger.Info("allocation dispatched to vendor",
			zap.String("record_id", recordID),
			zap.String("root_id", rec.Path.Root()),
			zap.String("by", actor.Code.String()))
	}
	return rec, nil
}

// UpdateLR overwrites the lorry-receipt number. Vendors, admins and the
// record's assigner may write it.
func (l *Ledger) UpdateLR(ctx context.Context, recordID string, actorCode core.ActorCode, lrNumber string) (AllocationRecord, error) {
	lrNumber = strings.TrimSpace(lrNumber)
	if lrNumber == "" {
		return AllocationRecord{}, core.NewValidationError("lr_number", "is required")
	}
	actor, err := l.directory.Resolve(ctx, actorCode)
	if err != nil {
		return AllocationRecord{}, err
	}

	return l.store.UpdateRecord(ctx, recordID, func(r *AllocationRecord) error {
		if actor.Role != core.RoleAdmin && actor.Role != core.RoleVendor && r.AssignedBy != actor.Code {
			return core.Forbidden("%s may not update LR on record %s", actor.Code, r.ID)
		}
		now := l.clock.Now()
		r.Dispatch.LRNumber = lrNumber
		r.Dispatch.LRUpdatedAt = &now
		r.UpdatedAt = now
		return nil
	})
}

// MarkPODVisible exposes proof of delivery to end recipients for the
// subtree rooted at hierarchyID. Returns the number of records in the
// subtree.
func (l *Ledger) MarkPODVisible(ctx context.Context, hierarchyID string) (int, error) {
	if strings.TrimSpace(hierarchyID) == "" {
		return 0, core.NewValidationError("id", "is required")
	}

	f := RecordFilter{HierarchyID: hierarchyID, HierarchyLevels: core.PODCascadeLevels}
	n, err := l.store.UpdateRecords(ctx, f, func(r *AllocationRecord) (bool, error) {
		if r.Dispatch.PODUpdatedForEmployee {
			return false, nil
		}
		now := l.clock.Now()
		r.Dispatch.PODUpdatedForEmployee = true
		r.Dispatch.PODUpdatedAt = &now
		r.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, core.NotFound("allocation subtree", hierarchyID)
	}

	l.logger.Info("pod visibility cascaded", zap.String("id", hierarchyID), zap.Int("records", n))
	return n, nil
}

// VendorQueue lists records handed to the vendor.
func (l *Ledger) VendorQueue(ctx context.Context) ([]AllocationRecord, error) {
	dispatched := true
	return l.store.ListRecords(ctx, RecordFilter{ToVendor: &dispatched})
}
