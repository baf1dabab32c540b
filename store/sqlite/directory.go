package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/allocation-engine/core"
)

// =============================================================================
// ACTOR DIRECTORY (core.Directory interface)
// =============================================================================

var _ core.Directory = (*Store)(nil)

// SaveActor inserts or replaces an actor.
func (s *Store) SaveActor(ctx context.Context, a core.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parents := a.ParentCodes
	if parents == nil {
		parents = []core.ActorCode{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("failed to encode parent codes: %w", err)
	}
	parent, _ := a.Parent()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actors (code, name, role, branch, region, parent_code, parent_codes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			branch = excluded.branch,
			region = excluded.region,
			parent_code = excluded.parent_code,
			parent_codes_json = excluded.parent_codes_json
	`, a.Code, a.Name, a.Role, nullString(a.Branch), nullString(a.Region),
		nullString(string(parent)), string(parentsJSON))
	if err != nil {
		return fmt.Errorf("failed to save actor: %w", err)
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, code core.ActorCode) (core.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actors, err := s.queryActors(ctx, "WHERE code = ?", code)
	if err != nil {
		return core.Actor{}, err
	}
	if len(actors) == 0 {
		return core.Actor{}, core.NotFound("actor", code.String())
	}
	return actors[0], nil
}

func (s *Store) Reportees(ctx context.Context, code core.ActorCode) ([]core.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryActors(ctx, "WHERE parent_code = ? ORDER BY code", code)
}

// ListActors returns the whole directory ordered by code.
func (s *Store) ListActors(ctx context.Context) ([]core.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryActors(ctx, "ORDER BY code")
}

func (s *Store) queryActors(ctx context.Context, clause string, args ...any) ([]core.Actor, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT code, name, role, COALESCE(branch, ''), COALESCE(region, ''), parent_codes_json FROM actors "+clause,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actors: %w", err)
	}
	defer rows.Close()

	var actors []core.Actor
	for rows.Next() {
		var (
			a           core.Actor
			parentsJSON string
		)
		if err := rows.Scan(&a.Code, &a.Name, &a.Role, &a.Branch, &a.Region, &parentsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		if err := json.Unmarshal([]byte(parentsJSON), &a.ParentCodes); err != nil {
			return nil, fmt.Errorf("failed to decode parents of %s: %w", a.Code, err)
		}
		if len(a.ParentCodes) == 0 {
			a.ParentCodes = nil
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}
