// Package escalation classifies errors into kinds and resolves which handler
// an escalated error is routed to.
package escalation

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/team"
)

// Built in kind names.
const (
	KindError           = "error"
	KindPanic           = team.PanicKind
	KindGovernance      = "governance"
	KindManagedObject   = "managed-object"
	KindTeamStopped     = "team-stopped"
	KindIllegalState    = "illegal-state"
	KindIllegalArgument = "illegal-argument"
)

var (
	// ErrIllegalState marks errors of kind illegal-state.
	ErrIllegalState = errors.New("illegal state")
	// ErrIllegalArgument marks errors of kind illegal-argument.
	ErrIllegalArgument = errors.New("illegal argument")
)

// Classified errors name their own kind. The kind matches when any error in
// the chain reports its name.
type Classified interface {
	error
	EscalationKind() string
}

// Kind is a named class of errors. Kinds form a hierarchy rooted at "error";
// an error matching a kind also matches every ancestor.
type Kind struct {
	name   string
	parent *Kind
	depth  int
	match  func(error) bool

	mu       sync.RWMutex
	children []*Kind
}

// Name returns the kind name.
func (k *Kind) Name() string { return k.name }

// Parent returns the parent kind, nil for the root.
func (k *Kind) Parent() *Kind { return k.parent }

// Depth is the distance from the root. Deeper kinds are more specific.
func (k *Kind) Depth() int { return k.depth }

// Matches reports whether err belongs to the kind or to any kind below it.
func (k *Kind) Matches(err error) bool {
	if err == nil {
		return false
	}
	return k.matches(err, classifications(err))
}

func (k *Kind) matches(err error, classified []string) bool {
	if k.match(err) || slices.Contains(classified, k.name) {
		return true
	}
	k.mu.RLock()
	children := k.children
	k.mu.RUnlock()
	for _, c := range children {
		if c.matches(err, classified) {
			return true
		}
	}
	return false
}

func (k *Kind) adopt(child *Kind) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.children = append(slices.Clip(k.children), child)
}

func (k *Kind) String() string { return k.name }

func classifications(err error) []string {
	var names []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if c, ok := e.(Classified); ok {
			names = append(names, c.EscalationKind())
		}
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return names
}

// Registry holds the known kinds. It starts with the built in kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
	root  *Kind
}

// NewRegistry creates a registry populated with the built in kinds.
func NewRegistry() *Registry {
	root := &Kind{name: KindError, match: func(error) bool { return true }}
	r := &Registry{kinds: map[string]*Kind{KindError: root}, root: root}

	never := func(error) bool { return false }
	r.mustRegister(KindPanic, KindError, never)
	r.mustRegister(KindManagedObject, KindError, never)
	r.mustRegister(KindGovernance, KindError, func(err error) bool {
		var enforceErr *governance.EnforceError
		return errors.As(err, &enforceErr)
	})
	r.mustRegister(KindTeamStopped, KindError, func(err error) bool {
		return errors.Is(err, team.ErrTeamStopped)
	})
	r.mustRegister(KindIllegalState, KindError, func(err error) bool {
		return errors.Is(err, ErrIllegalState)
	})
	r.mustRegister(KindIllegalArgument, KindError, func(err error) bool {
		return errors.Is(err, ErrIllegalArgument)
	})
	return r
}

func (r *Registry) mustRegister(name, parent string, match func(error) bool) {
	if _, err := r.Register(name, parent, match); err != nil {
		panic(err)
	}
}

// Root returns the "error" kind.
func (r *Registry) Root() *Kind { return r.root }

// Register adds a kind under parent. match may be nil when the kind is only
// reached through Classified errors.
func (r *Registry) Register(name, parent string, match func(error) bool) (*Kind, error) {
	if name == "" {
		return nil, fmt.Errorf("escalation kind name is required")
	}
	if match == nil {
		match = func(error) bool { return false }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[name]; exists {
		return nil, fmt.Errorf("escalation kind %q already registered", name)
	}
	p, ok := r.kinds[parent]
	if !ok {
		return nil, fmt.Errorf("escalation kind %q: unknown parent %q", name, parent)
	}
	k := &Kind{name: name, parent: p, depth: p.depth + 1, match: match}
	r.kinds[name] = k
	p.adopt(k)
	return k, nil
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Names lists the registered kinds, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify returns the most specific kind err belongs to.
func (r *Registry) Classify(err error) *Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := r.root
	for _, k := range r.kinds {
		if k.depth > best.depth && k.Matches(err) {
			best = k
		} else if k.depth == best.depth && k != best && k.Matches(err) && k.name < best.name {
			best = k
		}
	}
	return best
}

// KindOf registers a kind matching errors assignable to T via errors.As.
func KindOf[T error](r *Registry, name, parent string) (*Kind, error) {
	return r.Register(name, parent, func(err error) bool {
		var target T
		return errors.As(err, &target)
	})
}
