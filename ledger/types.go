/*
Package ledger implements the hierarchical allocation ledger.

PURPOSE:
  A finite quantity of a physical item (sample boards, gifts) is pushed
  down the sales hierarchy. Admin seeds a StockPool; every level then
  allocates to the level below out of what it has received. End recipients
  record consumption against customers or projects.

KEY CONCEPTS IN THIS FILE (types.go):
  - ItemKey:          Item name + year + lot (stock is tracked per key)
  - Purpose:          Why stock moves; decides vendor eligibility at creation
  - StockPool:        Admin-owned master quantity per item key
  - AllocationRecord: "actor A gave qty of item X to these recipients"
  - RecipientEntry:   One recipient's share and its usage sub-ledger
  - UsageEntry:       One consumption against a customer/project

DESIGN PRINCIPLES:
  1. Derived stock: availability is recomputed from records, never cached
  2. Append-mostly: records are never deleted; only dispatch fields and
     recipient usage change after creation
  3. Ancestry by value: every record carries a core.HierarchyPath

SEE ALSO:
  - stock.go:      StockDerivationEngine
  - allocation.go: Create and RecordUsage
  - dispatch.go:   Vendor hand-off, LR numbers, POD cascade
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/allocation-engine/core"
)

// =============================================================================
// ITEM KEY
// =============================================================================

type ItemKey struct {
	Name string `json:"name" validate:"required"`
	Year int    `json:"year" validate:"gte=2000"`
	Lot  string `json:"lot"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s|%d|%s", k.Name, k.Year, k.Lot)
}

// =============================================================================
// PURPOSE - Decides vendor eligibility once, at creation
// =============================================================================

type Purpose string

const (
	PurposeProject   Purpose = "project"
	PurposeMarketing Purpose = "marketing"
	PurposeSampling  Purpose = "sampling"
	PurposeGift      Purpose = "gift"
	PurposeDemo      Purpose = "demo"
	PurposeOther     Purpose = "other"
)

// VendorEligible reports whether records with this purpose may be handed
// to an external vendor for fulfilment.
func (p Purpose) VendorEligible() bool {
	return p == PurposeProject || p == PurposeMarketing
}

// ParsePurpose maps client input onto the enum. Exact names win; free text
// from older clients ("Project - Site 4", "Marketing Event") is classified
// by keyword; anything else becomes PurposeOther.
func ParsePurpose(s string) Purpose {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch Purpose(norm) {
	case PurposeProject, PurposeMarketing, PurposeSampling, PurposeGift, PurposeDemo, PurposeOther:
		return Purpose(norm)
	}
	switch {
	case strings.Contains(norm, "project"):
		return PurposeProject
	case strings.Contains(norm, "marketing"):
		return PurposeMarketing
	}
	return PurposeOther
}

// =============================================================================
// STOCK POOL - Admin master quantity
// =============================================================================

// StockPool holds the global quantity of an item key.
// INVARIANT: Balance() == Opening - Issued, Issued <= Opening.
type StockPool struct {
	Item      ItemKey
	Opening   core.Quantity
	Issued    core.Quantity
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p StockPool) Balance() core.Quantity { return p.Opening - p.Issued }

// Debit issues q units from the pool.
func (p *StockPool) Debit(q core.Quantity, at time.Time) error {
	if q > p.Balance() {
		return &core.StockPoolExhaustedError{Item: p.Item.String(), Balance: p.Balance(), Requested: q}
	}
	p.Issued += q
	p.UpdatedAt = at
	return nil
}

// =============================================================================
// ALLOCATION RECORD
// =============================================================================

type UsageEntry struct {
	ID     string         `json:"id"`
	Ref    string         `json:"ref"` // customer or project reference
	Qty    core.Quantity  `json:"qty"`
	UsedBy core.ActorCode `json:"used_by"`
	UsedAt time.Time      `json:"used_at"`
}

// RecipientEntry is one recipient's share of an allocation.
// INVARIANT: UsedQty == Σ UsedSamples[].Qty <= Qty.
type RecipientEntry struct {
	ActorCode   core.ActorCode
	Name        string
	Qty         core.Quantity
	UsedQty     core.Quantity
	UsedSamples []UsageEntry
}

func (e RecipientEntry) Remaining() core.Quantity { return e.Qty - e.UsedQty }

// Dispatch carries vendor hand-off and delivery state.
type Dispatch struct {
	ToVendor              bool
	DispatchedAt          *time.Time
	DispatchedBy          core.ActorCode
	LRNumber              string
	LRUpdatedAt           *time.Time
	PODUpdatedForEmployee bool
	PODUpdatedAt          *time.Time
}

// AllocationRecord is the ledger's unit of truth.
//
// AllocationID is the id assigned at the creator's level and is the leaf
// of Path. When one logical allocation is split into a record per
// recipient, the records share AllocationID and Path but have distinct IDs.
type AllocationRecord struct {
	ID             string
	AllocationID   string
	Path           core.HierarchyPath
	Level          core.Level
	Item           ItemKey
	Purpose        Purpose
	PurposeNote    string
	VendorEligible bool
	AssignedBy     core.ActorCode
	AssignedByRole core.Role
	Recipients     []RecipientEntry
	Dispatch       Dispatch
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Total returns Σ recipients[].qty.
func (r AllocationRecord) Total() core.Quantity {
	var total core.Quantity
	for _, e := range r.Recipients {
		total += e.Qty
	}
	return total
}

// Recipient returns the entry for code and its index.
func (r *AllocationRecord) Recipient(code core.ActorCode) (*RecipientEntry, int) {
	for i := range r.Recipients {
		if r.Recipients[i].ActorCode == code {
			return &r.Recipients[i], i
		}
	}
	return nil, -1
}

// Involves reports whether actor assigned or received on this record.
func (r AllocationRecord) Involves(actor core.ActorCode) bool {
	if r.AssignedBy == actor {
		return true
	}
	for _, e := range r.Recipients {
		if e.ActorCode == actor {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate stored state.
func (r AllocationRecord) Clone() AllocationRecord {
	out := r
	out.Path = append(core.HierarchyPath(nil), r.Path...)
	out.Recipients = make([]RecipientEntry, len(r.Recipients))
	for i, e := range r.Recipients {
		e.UsedSamples = append([]UsageEntry(nil), e.UsedSamples...)
		out.Recipients[i] = e
	}
	out.Dispatch.DispatchedAt = cloneTime(r.Dispatch.DispatchedAt)
	out.Dispatch.LRUpdatedAt = cloneTime(r.Dispatch.LRUpdatedAt)
	out.Dispatch.PODUpdatedAt = cloneTime(r.Dispatch.PODUpdatedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// =============================================================================
// RECORD FILTER
// =============================================================================

// RecordFilter selects records. Zero fields match everything; set fields
// are ANDed.
type RecordFilter struct {
	// Involving matches records where the actor assigned or received.
	Involving  core.ActorCode
	AssignedBy core.ActorCode
	Recipient  core.ActorCode
	Item       *ItemKey
	Level      core.Level

	// HierarchyID matches records whose path holds the id at one of
	// HierarchyLevels (any level when empty).
	HierarchyID     string
	HierarchyLevels []core.Level

	ToVendor *bool
}

// Match applies the filter to one record.
func (f RecordFilter) Match(r AllocationRecord) bool {
	if f.Involving != "" && !r.Involves(f.Involving) {
		return false
	}
	if f.AssignedBy != "" && r.AssignedBy != f.AssignedBy {
		return false
	}
	if f.Recipient != "" {
		if e, _ := r.Recipient(f.Recipient); e == nil {
			return false
		}
	}
	if f.Item != nil && r.Item != *f.Item {
		return false
	}
	if f.Level != "" && r.Level != f.Level {
		return false
	}
	if f.HierarchyID != "" && !r.Path.Matches(f.HierarchyID, f.HierarchyLevels...) {
		return false
	}
	if f.ToVendor != nil && r.Dispatch.ToVendor != *f.ToVendor {
		return false
	}
	return true
}
