package controller

import (
	"sort"
	"sync"
)

// Registry holds the live state of a fixed set of named controllers.
//
// The set of names is fixed at construction: there is no way to add or remove
// a controller afterwards. All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	states  map[string]State
	names   []string // sorted, immutable after NewRegistry
	version uint64
}

// NewRegistry creates a registry holding a copy of initial.
func NewRegistry(initial map[string]State) *Registry {
	states := make(map[string]State, len(initial))
	names := make([]string, 0, len(initial))
	for name, s := range initial {
		states[name] = s
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{
		states: states,
		names:  names,
	}
}

// Get returns a copy of the named controller's state.
func (r *Registry) Get(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[name]
	return s, ok
}

// Len returns the number of controllers.
func (r *Registry) Len() int {
	return len(r.names)
}

// Names returns the controller names in snapshot order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Update applies mutate to the named controller and returns the snapshot
// taken immediately after, inside the same critical section.
//
// Returns ErrNotFound without calling mutate if name is unknown.
func (r *Registry) Update(name string, mutate func(*State)) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[name]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	mutate(&s)
	r.states[name] = s
	r.version++

	return r.snapshotLocked(), nil
}

// UpdateAll calls mutate once per controller, in snapshot order, under a
// single write lock, and returns the resulting snapshot. Concurrent readers
// observe either none or all of the changes.
func (r *Registry) UpdateAll(mutate func(name string, s *State)) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.names {
		s := r.states[name]
		mutate(name, &s)
		r.states[name] = s
	}
	r.version++

	return r.snapshotLocked()
}

// Snapshot returns a consistent copy of every controller, sorted by name.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked()
}

// snapshotLocked copies the registry. Caller must hold r.mu.
func (r *Registry) snapshotLocked() Snapshot {
	entries := make([]Entry, len(r.names))
	for i, name := range r.names {
		entries[i] = Entry{Name: name, State: r.states[name]}
	}
	return Snapshot{Version: r.version, Entries: entries}
}
