package governance

import (
	"context"
	"fmt"
	"sync"
)

// State of a governance within one process.
type State int

const (
	StateInactive State = iota
	StateActive
	StateEnforced
	StateDisregarded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnforced:
		return "enforced"
	case StateDisregarded:
		return "disregarded"
	default:
		return "inactive"
	}
}

// Container drives one governance for one process:
//
//	INACTIVE -> ACTIVE -> ENFORCED | DISREGARDED -> INACTIVE
//
// Each activation creates a fresh Governance from the source and ends with
// exactly one of Enforce or Disregard.
type Container struct {
	name   string
	source Source

	mu          sync.Mutex
	state       State
	active      Governance
	governed    map[any]struct{}
	failed      bool
	activations int
}

// NewContainer creates an inactive container for the named governance.
func NewContainer(name string, source Source) *Container {
	return &Container{name: name, source: source}
}

// Name returns the governance name.
func (c *Container) Name() string { return c.name }

// State returns the current state. Enforced and disregarded are reported
// until the next activation.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether an activation is in progress.
func (c *Container) Active() bool {
	return c.State() == StateActive
}

// Activations returns the number of times the container was activated.
func (c *Container) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}

// Activate starts a new activation. Activating an active container is a no-op
// and reports false.
func (c *Container) Activate(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		return false, nil
	}
	gov, err := c.source.Create(ctx)
	if err != nil {
		return false, fmt.Errorf("create governance %s: %w", c.name, err)
	}
	c.state = StateActive
	c.active = gov
	c.governed = make(map[any]struct{})
	c.failed = false
	c.activations++
	return true, nil
}

// Govern registers the extension of the managed object identified by key.
// A managed object is governed at most once per activation; extract is only
// called the first time.
func (c *Container) Govern(ctx context.Context, key any, extract func() (any, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return fmt.Errorf("govern under %s: %w", c.name, ErrNotActive)
	}
	if _, ok := c.governed[key]; ok {
		return nil
	}
	ext, err := extract()
	if err != nil {
		return fmt.Errorf("extract extension for %s: %w", c.name, err)
	}
	if err := c.active.Govern(ctx, ext); err != nil {
		return fmt.Errorf("govern under %s: %w", c.name, err)
	}
	c.governed[key] = struct{}{}
	return nil
}

// Governed returns the number of objects registered in this activation.
func (c *Container) Governed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.governed)
}

// MarkFailed records that a function under the governance escalated, so the
// activation must end with Disregard.
func (c *Container) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.failed = true
	}
}

// Failed reports whether the current activation was marked failed.
func (c *Container) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive && c.failed
}

// Finalize ends the activation: Enforce when it was not marked failed,
// otherwise Disregard. It reports the resulting state.
func (c *Container) Finalize(ctx context.Context) (State, error) {
	if c.Failed() {
		return StateDisregarded, c.Disregard(ctx)
	}
	return StateEnforced, c.Enforce(ctx)
}

// Enforce ends the activation by enforcing. A failure is returned as an
// *EnforceError; the activation still ends.
func (c *Container) Enforce(ctx context.Context) error {
	gov, err := c.end(StateEnforced)
	if err != nil {
		return err
	}
	if err := gov.Enforce(ctx); err != nil {
		return &EnforceError{Governance: c.name, Err: err}
	}
	return nil
}

// Disregard ends the activation by disregarding.
func (c *Container) Disregard(ctx context.Context) error {
	gov, err := c.end(StateDisregarded)
	if err != nil {
		return err
	}
	if err := gov.Disregard(ctx); err != nil {
		return fmt.Errorf("disregard governance %s: %w", c.name, err)
	}
	return nil
}

func (c *Container) end(state State) (Governance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil, fmt.Errorf("%s governance %s: %w", state, c.name, ErrNotActive)
	}
	gov := c.active
	c.state = state
	c.active = nil
	c.governed = nil
	c.failed = false
	return gov, nil
}
