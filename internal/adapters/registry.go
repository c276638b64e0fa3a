package adapters

import (
	"fmt"
	"sort"
	"sync"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// Role names the capability slot an adapter is registered under.
type Role string

const (
	RoleCollector Role = "collector"
	RoleSOAR      Role = "soar"
	RoleStorage   Role = "storage"
)

// Registry stores adapters keyed by role and name. A single adapter instance
// may be registered under several roles when it implements them.
type Registry struct {
	mu       sync.RWMutex
	byRole   map[Role]map[string]Adapter
	ordering map[Role][]string // registration order drives fallback priority
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		byRole:   make(map[Role]map[string]Adapter),
		ordering: make(map[Role][]string),
	}
}

// Register adds an adapter under a role. Registering the same role+name twice
// is a conflict.
func (r *Registry) Register(role Role, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.byRole[role]
	if !ok {
		slot = make(map[string]Adapter)
		r.byRole[role] = slot
	}
	if _, dup := slot[a.Name()]; dup {
		return argerr.Conflict("register_adapter", a.Name(),
			fmt.Errorf("adapter %q already registered for role %s", a.Name(), role))
	}
	slot[a.Name()] = a
	r.ordering[role] = append(r.ordering[role], a.Name())
	return nil
}

// Get returns the adapter registered under role+name.
func (r *Registry) Get(role Role, name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byRole[role][name]
	return a, ok
}

// First returns the first-registered adapter for a role, the configured
// default for action dispatch.
func (r *Registry) First(role Role) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.ordering[role]
	if len(names) == 0 {
		return nil, false
	}
	return r.byRole[role][names[0]], true
}

// Collector returns the first collector, typed.
func (r *Registry) Collector() (Collector, bool) {
	a, ok := r.First(RoleCollector)
	if !ok {
		return nil, false
	}
	c, ok := a.(Collector)
	return c, ok
}

// SOAR returns the first SOAR adapter, typed.
func (r *Registry) SOAR() (SOAR, bool) {
	a, ok := r.First(RoleSOAR)
	if !ok {
		return nil, false
	}
	s, ok := a.(SOAR)
	return s, ok
}

// Storage returns the first storage adapter, typed.
func (r *Registry) Storage() (Storage, bool) {
	a, ok := r.First(RoleStorage)
	if !ok {
		return nil, false
	}
	s, ok := a.(Storage)
	return s, ok
}

// List returns the registered names per role, sorted.
func (r *Registry) List() map[Role][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role][]string, len(r.byRole))
	for role, slot := range r.byRole {
		names := make([]string, 0, len(slot))
		for name := range slot {
			names = append(names, name)
		}
		sort.Strings(names)
		out[role] = names
	}
	return out
}
