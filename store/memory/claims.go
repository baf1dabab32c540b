package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
)

// Claims is an in-memory approval.Store.
type Claims struct {
	mu     sync.RWMutex
	claims map[string]approval.RevenueClaim
	byKey  map[approval.NaturalKey]string
}

var _ approval.Store = (*Claims)(nil)

func NewClaims() *Claims {
	return &Claims{
		claims: make(map[string]approval.RevenueClaim),
		byKey:  make(map[approval.NaturalKey]string),
	}
}

func (m *Claims) UpsertClaim(_ context.Context, key approval.NaturalKey, fn func(*approval.RevenueClaim) (approval.RevenueClaim, error)) (approval.RevenueClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *approval.RevenueClaim
	if id, ok := m.byKey[key]; ok {
		c := m.claims[id].Clone()
		existing = &c
	}
	next, err := fn(existing)
	if err != nil {
		return approval.RevenueClaim{}, err
	}
	if existing != nil {
		next.ID = existing.ID
	}
	m.claims[next.ID] = next.Clone()
	m.byKey[key] = next.ID
	return next, nil
}

func (m *Claims) GetClaim(_ context.Context, id string) (approval.RevenueClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return approval.RevenueClaim{}, core.NotFound("revenue claim", id)
	}
	return c.Clone(), nil
}

func (m *Claims) FindClaim(_ context.Context, key approval.NaturalKey) (approval.RevenueClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return approval.RevenueClaim{}, core.NotFound("revenue claim", key.String())
	}
	return m.claims[id].Clone(), nil
}

func (m *Claims) UpdateClaim(_ context.Context, id string, fn func(*approval.RevenueClaim) error) (approval.RevenueClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return approval.RevenueClaim{}, core.NotFound("revenue claim", id)
	}
	work := c.Clone()
	if err := fn(&work); err != nil {
		return approval.RevenueClaim{}, err
	}
	m.claims[id] = work
	return work.Clone(), nil
}

func (m *Claims) ListClaims(_ context.Context, f approval.ClaimFilter) ([]approval.RevenueClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []approval.RevenueClaim
	for _, c := range m.claims {
		if f.Match(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Claims) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims = make(map[string]approval.RevenueClaim)
	m.byKey = make(map[approval.NaturalKey]string)
}
