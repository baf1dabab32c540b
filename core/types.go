/*
Package core provides the shared vocabulary of the allocation engine.

PURPOSE:
  Both the allocation ledger and the revenue approval pipeline work over
  the same four-level sales hierarchy. This package holds the pieces they
  share: who an actor is, where it sits in the hierarchy, how quantities
  and identifiers are represented, and how errors are classified.

KEY CONCEPTS IN THIS FILE (types.go):
  - ActorCode: Type-safe identifier of a participant (employee code)
  - Role:      Admin, RegionalManager, BranchManager, Manager, Employee, Vendor
  - Level:     The hierarchy level a role allocates from (root, rm, bm, manager)
  - Actor:     Resolved identity with its upward reporting chain
  - Quantity:  Whole units of a physical item (boards, gifts)

HIERARCHY:
  Admin ──▶ RegionalManager ──▶ BranchManager ──▶ Manager ──▶ Employee

  Stock flows down this chain. Revenue claims flow up it.

SEE ALSO:
  - hierarchy.go: HierarchyPath value type (ancestry of allocation records)
  - errors.go:    Error taxonomy shared by ledger and approval
  - directory.go: ActorDirectory contract (external collaborator)
*/
package core

import (
	"fmt"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ActorCode string

func (c ActorCode) String() string { return string(c) }

// =============================================================================
// ROLE - Position of an actor in the sales hierarchy
// =============================================================================

type Role string

const (
	RoleAdmin           Role = "admin"
	RoleRegionalManager Role = "regional_manager"
	RoleBranchManager   Role = "branch_manager"
	RoleManager         Role = "manager"
	RoleEmployee        Role = "employee"
	RoleVendor          Role = "vendor"
)

// rank orders roles from the top of the hierarchy. Vendor sits outside it.
var rank = map[Role]int{
	RoleAdmin:           4,
	RoleRegionalManager: 3,
	RoleBranchManager:   2,
	RoleManager:         1,
	RoleEmployee:        0,
}

// ParseRole accepts the canonical form plus the short labels used by
// the mobile clients ("RM", "BM").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "regional_manager", "regionalmanager", "rm":
		return RoleRegionalManager, nil
	case "branch_manager", "branchmanager", "bm":
		return RoleBranchManager, nil
	case "manager":
		return RoleManager, nil
	case "employee":
		return RoleEmployee, nil
	case "vendor":
		return RoleVendor, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// InHierarchy reports whether the role takes part in allocation and approval.
func (r Role) InHierarchy() bool {
	_, ok := rank[r]
	return ok
}

// Above reports whether r sits strictly above other in the hierarchy.
func (r Role) Above(other Role) bool {
	a, okA := rank[r]
	b, okB := rank[other]
	return okA && okB && a > b
}

// CanAllocate reports whether the role may hand stock down.
func (r Role) CanAllocate() bool {
	_, ok := r.Level()
	return ok
}

// Level returns the hierarchy level at which this role creates allocation
// records. Employees and vendors never allocate.
func (r Role) Level() (Level, bool) {
	switch r {
	case RoleAdmin:
		return LevelRoot, true
	case RoleRegionalManager:
		return LevelRegional, true
	case RoleBranchManager:
		return LevelBranch, true
	case RoleManager:
		return LevelManager, true
	}
	return "", false
}

// =============================================================================
// ACTOR - Resolved participant
// =============================================================================

// Actor is owned by the directory and is immutable for the engine.
//
// ParentCodes is the upward reporting chain, nearest first:
// an employee's chain is [manager, branch manager, regional manager, admin].
type Actor struct {
	Code        ActorCode
	Name        string
	Role        Role
	Branch      string
	Region      string
	ParentCodes []ActorCode
}

// Parent returns the direct superior, if any.
func (a Actor) Parent() (ActorCode, bool) {
	if len(a.ParentCodes) == 0 {
		return "", false
	}
	return a.ParentCodes[0], true
}

// ReportsTo reports whether code appears anywhere in the actor's upward chain.
func (a Actor) ReportsTo(code ActorCode) bool {
	for _, p := range a.ParentCodes {
		if p == code {
			return true
		}
	}
	return false
}

// =============================================================================
// QUANTITY - Whole units of a physical item
// =============================================================================

type Quantity int64

func (q Quantity) IsNegative() bool { return q < 0 }
func (q Quantity) IsPositive() bool { return q > 0 }

// Sum adds up quantities.
func Sum(qs ...Quantity) Quantity {
	var total Quantity
	for _, q := range qs {
		total += q
	}
	return total
}
