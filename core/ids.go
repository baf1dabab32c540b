package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a collision-resistant identifier with a readable prefix,
// e.g. "RM-3f0c9e0a-...". Identifiers never derive from the wall clock.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return strings.ToUpper(prefix) + "-" + id
}

// IDPrefix returns the conventional id prefix for allocations created at a level.
func IDPrefix(level Level) string {
	switch level {
	case LevelRoot:
		return "R"
	case LevelRegional:
		return "RM"
	case LevelBranch:
		return "BM"
	case LevelManager:
		return "MGR"
	}
	return "ALLOC"
}

// IDGenerator produces identifiers. Tests swap in a deterministic one.
type IDGenerator func(prefix string) string
