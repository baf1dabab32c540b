/*
hierarchy.go - Ancestry of allocation records

PURPOSE:
  Every allocation record remembers which upstream allocations it was
  carved out of. A record created by a branch manager carries the id of
  the admin allocation it descends from, the id of the regional
  allocation, and its own branch-level id.

  HierarchyPath holds that chain as an ordered list of (level, id)
  segments, root first. Ancestry questions become a single structural
  match instead of a comparison per level.

EXAMPLE:
  Admin allocates        → [root:R1]
  RM allocates from R1   → [root:R1, rm:RM-7]
  BM allocates from RM-7 → [root:R1, rm:RM-7, bm:BM-3]

  MarkPODVisible("RM-7") touches every record whose path holds RM-7 at
  the root, rm or bm level: the second and third records above.

TRUST:
  The ledger does not derive ancestry. The caller supplies the parent path
  of the allocation it is spending from and the ledger appends the new
  segment. Extend validates only shape (levels strictly descend).
*/
package core

import (
	"fmt"
	"strings"
)

type Level string

const (
	LevelRoot     Level = "root"
	LevelRegional Level = "rm"
	LevelBranch   Level = "bm"
	LevelManager  Level = "manager"
)

var levelDepth = map[Level]int{
	LevelRoot:     0,
	LevelRegional: 1,
	LevelBranch:   2,
	LevelManager:  3,
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelDepth[l]
	return ok
}

// PODCascadeLevels are the levels a proof-of-delivery cascade matches on.
var PODCascadeLevels = []Level{LevelRoot, LevelRegional, LevelBranch}

// PathSegment is one hop of the chain.
type PathSegment struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

// HierarchyPath is ordered root first. The zero value is the empty path
// (used for the parent of a root allocation).
type HierarchyPath []PathSegment

// Root returns the admin-level id. Every stored record has one.
func (p HierarchyPath) Root() string {
	return p.IDAt(LevelRoot)
}

// IDAt returns the id at the given level, or "" if the path has none.
func (p HierarchyPath) IDAt(level Level) string {
	for _, s := range p {
		if s.Level == level {
			return s.ID
		}
	}
	return ""
}

// Leaf returns the last segment.
func (p HierarchyPath) Leaf() (PathSegment, bool) {
	if len(p) == 0 {
		return PathSegment{}, false
	}
	return p[len(p)-1], true
}

// Matches reports whether id appears at any of the given levels.
// With no levels, every level is considered.
func (p HierarchyPath) Matches(id string, levels ...Level) bool {
	for _, s := range p {
		if s.ID != id {
			continue
		}
		if len(levels) == 0 {
			return true
		}
		for _, l := range levels {
			if s.Level == l {
				return true
			}
		}
	}
	return false
}

// DescendsFrom reports whether p starts with every segment of ancestor.
func (p HierarchyPath) DescendsFrom(ancestor HierarchyPath) bool {
	if len(ancestor) > len(p) {
		return false
	}
	for i := range ancestor {
		if p[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// Extend returns a new path with (level, id) appended.
// Levels must strictly descend and a non-root path needs a root ancestor.
func (p HierarchyPath) Extend(level Level, id string) (HierarchyPath, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("unknown hierarchy level %q", level)
	}
	if id == "" {
		return nil, fmt.Errorf("empty id for level %s", level)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if level == LevelRoot && len(p) > 0 {
		return nil, fmt.Errorf("root allocation cannot have a parent path")
	}
	if level != LevelRoot && len(p) == 0 {
		return nil, fmt.Errorf("%s allocation requires a parent path with a root id", level)
	}
	if leaf, ok := p.Leaf(); ok && levelDepth[leaf.Level] >= levelDepth[level] {
		return nil, fmt.Errorf("level %s cannot follow %s", level, leaf.Level)
	}

	out := make(HierarchyPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathSegment{Level: level, ID: id}), nil
}

// Validate checks shape: root first, strictly descending levels, no empty ids.
func (p HierarchyPath) Validate() error {
	for i, s := range p {
		if !s.Level.Valid() {
			return fmt.Errorf("segment %d: unknown level %q", i, s.Level)
		}
		if s.ID == "" {
			return fmt.Errorf("segment %d: empty id", i)
		}
		if i == 0 && s.Level != LevelRoot {
			return fmt.Errorf("path must start at root, got %s", s.Level)
		}
		if i > 0 && levelDepth[p[i-1].Level] >= levelDepth[s.Level] {
			return fmt.Errorf("segment %d: level %s cannot follow %s", i, s.Level, p[i-1].Level)
		}
	}
	return nil
}

func (p HierarchyPath) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = string(s.Level) + ":" + s.ID
	}
	return strings.Join(parts, "/")
}
