/*
Package approval runs revenue claims up the sales hierarchy.

STATE MACHINE:
  ┌─────────┐ approve  ┌──────────┐ submit   ┌──────────────────────┐
  │ Created │ ───────▶ │ Approved │ ───────▶ │ SubmittedByManager   │
  └─────────┘ (mgr/bm) └──────────┘ (mgr)    └──────────────────────┘
       │                    │                          │ submit (bm)
       │                    │ submit (bm, own manual)  ▼
       │                    └──────────────▶ ┌──────────────────────┐
       │                                     │ SubmittedByBranch    │──▶ visible to RM, Admin
       │                                     └──────────────────────┘
       └──── reject (any state, any level that can see it) ──▶ Rejected (terminal)

IDEMPOTENCY:
  A claim's natural key is (poNumber, empCode). Recording or approving
  the same key again updates the existing claim in place; it never creates
  a second one. The first approval's timestamp and approver are kept.

VISIBILITY:
  Nobody "owns" a claim. Each level computes what it sees by filtering the
  claim set on its role and its reportees (see visibility.go).
*/
package approval

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
)

type ClaimState string

const (
	StateCreated            ClaimState = "created"
	StateApproved           ClaimState = "approved"
	StateSubmittedByManager ClaimState = "submitted_by_manager"
	StateSubmittedByBranch  ClaimState = "submitted_by_branch"
	StateRejected           ClaimState = "rejected"
)

// order ranks states along the happy path. Rejected sits outside it.
var order = map[ClaimState]int{
	StateCreated:            0,
	StateApproved:           1,
	StateSubmittedByManager: 2,
	StateSubmittedByBranch:  3,
}

// AtLeast reports whether s has progressed to other or beyond.
func (s ClaimState) AtLeast(other ClaimState) bool {
	a, okA := order[s]
	b, okB := order[other]
	return okA && okB && a >= b
}

// NaturalKey deduplicates claims.
type NaturalKey struct {
	PONumber string
	EmpCode  core.ActorCode
}

// NewNaturalKey normalises the PO number (trimmed, upper case).
func NewNaturalKey(po string, emp core.ActorCode) NaturalKey {
	return NaturalKey{PONumber: strings.ToUpper(strings.TrimSpace(po)), EmpCode: emp}
}

func (k NaturalKey) String() string { return k.PONumber + "/" + string(k.EmpCode) }

// Submission is one upward hand-off.
type Submission struct {
	Role core.Role      `json:"role"`
	By   core.ActorCode `json:"by"`
	At   time.Time      `json:"at"`
}

type RevenueClaim struct {
	ID          string
	EmpCode     core.ActorCode
	ManagerCode core.ActorCode
	PONumber    string
	CustomerRef string
	OrderValue  decimal.Decimal
	State       ClaimState

	// IsManual marks claims entered directly by a manager or branch manager.
	IsManual  bool
	EnteredBy core.ActorCode

	ApprovedBy core.ActorCode
	ApprovedAt *time.Time

	// SubmittedBy/SubmittedAt reflect the latest submission.
	SubmittedBy core.ActorCode
	SubmittedAt *time.Time
	Submissions []Submission

	RejectedBy      core.ActorCode
	RejectedAt      *time.Time
	RejectionReason string

	Document *documents.Ref

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c RevenueClaim) Key() NaturalKey { return NaturalKey{PONumber: c.PONumber, EmpCode: c.EmpCode} }

// IsSubmittedToNext reports whether the claim has been handed up at least once.
func (c RevenueClaim) IsSubmittedToNext() bool { return len(c.Submissions) > 0 }

// SubmittedByRole returns who submitted at the given level, if anyone.
func (c RevenueClaim) SubmittedByRole(role core.Role) (core.ActorCode, bool) {
	for _, s := range c.Submissions {
		if s.Role == role {
			return s.By, true
		}
	}
	return "", false
}

func (c RevenueClaim) Clone() RevenueClaim {
	out := c
	out.Submissions = append([]Submission(nil), c.Submissions...)
	if c.Document != nil {
		d := *c.Document
		out.Document = &d
	}
	out.ApprovedAt = cloneTime(c.ApprovedAt)
	out.SubmittedAt = cloneTime(c.SubmittedAt)
	out.RejectedAt = cloneTime(c.RejectedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ClaimFilter narrows a listing. Zero fields match everything.
type ClaimFilter struct {
	EmpCode      core.ActorCode
	ManagerCodes []core.ActorCode
	States       []ClaimState
}

// Match applies the filter to one claim.
func (f ClaimFilter) Match(c RevenueClaim) bool {
	if f.EmpCode != "" && c.EmpCode != f.EmpCode {
		return false
	}
	if len(f.ManagerCodes) > 0 && !containsCode(f.ManagerCodes, c.ManagerCode) {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if c.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsCode(codes []core.ActorCode, c core.ActorCode) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}
