package room

import (
	"context"
	"sync"

	"github.com/moecube/duelrelay/internal/namedlock"
)

// Registry maps room names to live rooms and owns their creation.
type Registry struct {
	deps Deps

	mu    sync.RWMutex
	rooms map[string]*Room
	locks *namedlock.KeyedMutex
}

// NewRegistry builds an empty registry whose rooms share deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:  deps,
		rooms: make(map[string]*Room),
		locks: namedlock.New(),
	}
}

// Find returns the live room with the given name, or nil.
func (g *Registry) Find(name string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[name]
}

// All snapshots the live rooms.
func (g *Registry) All() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// FindOrCreate returns the room with the given name, creating it when
// absent. Creation is double-checked under a per-name critical section, so
// concurrent joins to the same new room converge on one instance while
// unrelated rooms are created in parallel.
func (g *Registry) FindOrCreate(ctx context.Context, name string) (*Room, error) {
	if r := g.Find(name); r != nil {
		return r, nil
	}

	var r *Room
	var created bool
	err := g.locks.Do("room_create:"+name, func() error {
		if r = g.Find(name); r != nil {
			return nil
		}
		r = New(name, g.deps)
		// Removal is registered first so it runs last: every other
		// finalizer still sees the room as findable.
		r.AddFinalizer(func(fr *Room) error {
			g.remove(fr)
			return nil
		})
		r.AddFinalizer(func(fr *Room) error {
			fr.cleanPlayers(false)
			return nil
		})
		g.mu.Lock()
		g.rooms[name] = r
		g.mu.Unlock()
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		r.fire(ctx, []firing{{CreatedEvent{Room: r}, nil}})
	}
	return r, nil
}

func (g *Registry) remove(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[r.Name()] == r {
		delete(g.rooms, r.Name())
	}
}
