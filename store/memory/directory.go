package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/core"
)

// Directory is an in-memory core.Directory.
type Directory struct {
	mu     sync.RWMutex
	actors map[core.ActorCode]core.Actor
}

var _ core.Directory = (*Directory)(nil)

func NewDirectory(actors ...core.Actor) *Directory {
	d := &Directory{actors: make(map[core.ActorCode]core.Actor)}
	for _, a := range actors {
		d.actors[a.Code] = a
	}
	return d
}

// AddActor inserts or replaces an actor.
func (d *Directory) AddActor(a core.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[a.Code] = a
}

func (d *Directory) Resolve(_ context.Context, code core.ActorCode) (core.Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[code]
	if !ok {
		return core.Actor{}, core.NotFound("actor", code.String())
	}
	return a, nil
}

func (d *Directory) Reportees(_ context.Context, code core.ActorCode) ([]core.Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []core.Actor
	for _, a := range d.actors {
		if p, ok := a.Parent(); ok && p == code {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *Directory) List() []core.Actor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.Actor, 0, len(d.actors))
	for _, a := range d.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors = make(map[core.ActorCode]core.Actor)
}
