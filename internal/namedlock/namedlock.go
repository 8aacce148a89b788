// Package namedlock provides mutual exclusion scoped to a string key.
// It is the in-process implementation of the named-lock collaborator the
// room registry uses to serialize creation per room name; a clustered
// deployment can substitute a distributed implementation of Locker.
package namedlock

import "sync"

// Locker runs fn while holding the lock for name. Callers with different
// names never contend.
type Locker interface {
	Do(name string, fn func() error) error
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex is a Locker backed by per-name mutexes. Entries are reclaimed
// once no caller holds or waits on them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

func (k *KeyedMutex) acquire(name string) *entry {
	k.mu.Lock()
	e := k.entries[name]
	if e == nil {
		e = &entry{}
		k.entries[name] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return e
}

func (k *KeyedMutex) release(name string, e *entry) {
	e.mu.Unlock()

	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, name)
	}
	k.mu.Unlock()
}

// Do runs fn while holding the lock for name.
func (k *KeyedMutex) Do(name string, fn func() error) error {
	e := k.acquire(name)
	defer k.release(name, e)
	return fn()
}
