// Package source maps the implementation types named in configuration onto
// the sources that build them.
package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/function"
	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/team"
)

// ManagedObjectFactory returns a new source for every configured managed object.
type ManagedObjectFactory func() managedobject.Source

// GovernanceFactory returns a new source for every configured governance.
type GovernanceFactory func() governance.Source

// Registry is owned by one office floor. It is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	teams          map[string]team.Source
	functions      map[string]function.Source
	managedObjects map[string]ManagedObjectFactory
	governances    map[string]GovernanceFactory
	kinds          *escalation.Registry
}

// NewRegistry creates a registry holding the built in team types and
// escalation kinds.
func NewRegistry() *Registry {
	r := &Registry{
		teams:          make(map[string]team.Source),
		functions:      make(map[string]function.Source),
		managedObjects: make(map[string]ManagedObjectFactory),
		governances:    make(map[string]GovernanceFactory),
		kinds:          escalation.NewRegistry(),
	}
	for typ, src := range team.Builtin() {
		r.teams[typ] = src
	}
	return r
}

// Kinds returns the escalation kinds.
func (r *Registry) Kinds() *escalation.Registry { return r.kinds }

func (r *Registry) RegisterTeam(typ string, src team.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.teams, "team", typ, src)
}

func (r *Registry) RegisterFunction(typ string, src function.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.functions, "function", typ, src)
}

func (r *Registry) RegisterManagedObject(typ string, factory ManagedObjectFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.managedObjects, "managed object", typ, factory)
}

func (r *Registry) RegisterGovernance(typ string, factory GovernanceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return register(r.governances, "governance", typ, factory)
}

func register[T any](m map[string]T, what, typ string, v T) error {
	if typ == "" {
		return fmt.Errorf("%s type is required", what)
	}
	if _, exists := m[typ]; exists {
		return fmt.Errorf("%s type %q already registered", what, typ)
	}
	m[typ] = v
	return nil
}

func (r *Registry) Team(typ string) (team.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.teams[typ]
	return src, ok
}

func (r *Registry) Function(typ string) (function.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.functions[typ]
	return src, ok
}

func (r *Registry) ManagedObject(typ string) (managedobject.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.managedObjects[typ]
	if !ok {
		return nil, false
	}
	return factory(), true
}

func (r *Registry) Governance(typ string) (governance.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.governances[typ]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Types lists the registered types per category, sorted.
func (r *Registry) Types() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"team":           keys(r.teams),
		"function":       keys(r.functions),
		"managed_object": keys(r.managedObjects),
		"governance":     keys(r.governances),
		"escalation":     r.kinds.Names(),
	}
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
