/*
stock.go - Stock derivation

PURPOSE:
  Answers "how much of item X can actor A still allocate or consume right
  now". The answer is always recomputed by scanning allocation records;
  there is no stored counter that can drift.

FORMULA (per actor, per item key):
  received    = Σ recipients[i].qty      where recipients[i] == actor
  used        = Σ recipients[i].usedQty  where recipients[i] == actor
  assignedOut = Σ recipients[i].qty      where record.assignedBy == actor
                                           and recipients[i] != actor
  available   = received - used - assignedOut

ADMIN:
  Admin never receives from a record; its stock comes from the pool.
  For an admin, received is the pool opening and assignedOut is every
  root-level allocation of the item (by any admin), so available equals
  the pool balance whenever pool and ledger agree.

EQUIVALENCE:
  A single record with N recipients and N records with one recipient each
  derive identical positions; the formula only sums recipient entries.
*/
package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/warp/allocation-engine/core"
)

// StockPosition is the derived stock of one actor for one item key.
// INVARIANT: Available == Received - Used - AssignedOut.
type StockPosition struct {
	Actor       core.ActorCode
	Item        ItemKey
	Received    core.Quantity
	Used        core.Quantity
	AssignedOut core.Quantity
	Available   core.Quantity
}

// Derive computes a non-admin position from records. Records for other
// items are ignored.
func Derive(actor core.ActorCode, item ItemKey, recs []AllocationRecord) StockPosition {
	pos := StockPosition{Actor: actor, Item: item}
	for _, r := range recs {
		if r.Item != item {
			continue
		}
		for _, e := range r.Recipients {
			if e.ActorCode == actor {
				pos.Received += e.Qty
				pos.Used += e.UsedQty
			} else if r.AssignedBy == actor {
				pos.AssignedOut += e.Qty
			}
		}
	}
	pos.Available = pos.Received - pos.Used - pos.AssignedOut
	return pos
}

// DerivePool computes the admin position from the pool and root records.
func DerivePool(actor core.ActorCode, pool StockPool, recs []AllocationRecord) StockPosition {
	pos := StockPosition{Actor: actor, Item: pool.Item, Received: pool.Opening}
	for _, r := range recs {
		if r.Item != pool.Item || r.Level != core.LevelRoot {
			continue
		}
		pos.AssignedOut += r.Total()
	}
	pos.Available = pos.Received - pos.Used - pos.AssignedOut
	return pos
}

// =============================================================================
// STOCK DERIVATION ENGINE
// =============================================================================

// StockEngine derives positions from a Store. Inside an allocation it is
// pointed at the transactional view so the check sees exactly the records
// that existed before the new one.
type StockEngine struct {
	Store Store
}

// Position derives the stock of actor for item.
func (e *StockEngine) Position(ctx context.Context, actor core.Actor, item ItemKey) (StockPosition, error) {
	if actor.Role == core.RoleAdmin {
		pool, err := e.Store.GetPool(ctx, item)
		if err != nil {
			if core.IsNotFound(err) {
				return StockPosition{Actor: actor.Code, Item: item}, nil
			}
			return StockPosition{}, err
		}
		recs, err := e.Store.ListRecords(ctx, RecordFilter{Item: &item, Level: core.LevelRoot})
		if err != nil {
			return StockPosition{}, err
		}
		return DerivePool(actor.Code, pool, recs), nil
	}

	recs, err := e.Store.ListRecords(ctx, RecordFilter{Involving: actor.Code, Item: &item})
	if err != nil {
		return StockPosition{}, err
	}
	return Derive(actor.Code, item, recs), nil
}

// Available is a shorthand for Position(...).Available.
func (e *StockEngine) Available(ctx context.Context, actor core.Actor, item ItemKey) (core.Quantity, error) {
	pos, err := e.Position(ctx, actor, item)
	if err != nil {
		return 0, err
	}
	return pos.Available, nil
}

// Positions returns one position per item key the actor has touched,
// sorted by item. For an admin that is one per pool.
func (e *StockEngine) Positions(ctx context.Context, actor core.Actor) ([]StockPosition, error) {
	var items []ItemKey
	seen := make(map[ItemKey]bool)

	if actor.Role == core.RoleAdmin {
		pools, err := e.Store.ListPools(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range pools {
			if !seen[p.Item] {
				seen[p.Item] = true
				items = append(items, p.Item)
			}
		}
	} else {
		recs, err := e.Store.ListRecords(ctx, RecordFilter{Involving: actor.Code})
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !seen[r.Item] {
				seen[r.Item] = true
				items = append(items, r.Item)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].String() < items[j].String() })

	out := make([]StockPosition, 0, len(items))
	for _, item := range items {
		pos, err := e.Position(ctx, actor, item)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// CheckPoolConsistency compares a pool with the ledger's root records.
// A non-nil error means the pool and the ledger have diverged.
func (e *StockEngine) CheckPoolConsistency(ctx context.Context, item ItemKey) error {
	pool, err := e.Store.GetPool(ctx, item)
	if err != nil {
		return err
	}
	recs, err := e.Store.ListRecords(ctx, RecordFilter{Item: &item, Level: core.LevelRoot})
	if err != nil {
		return err
	}
	var issued core.Quantity
	for _, r := range recs {
		issued += r.Total()
	}
	if issued != pool.Issued {
		return errors.New("stock pool " + item.String() + " issued quantity does not match root allocations")
	}
	return nil
}
