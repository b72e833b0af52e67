package execute

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/meta"
	"github.com/officefloor/officefloor/internal/team"
)

type objectState int

const (
	objectUnloaded objectState = iota
	objectLoading
	objectReady
	objectFailed
	objectReleased
)

var errObjectReleased = errors.New("released")

// objectContainer holds one managed object of a process. Jobs needing the
// object while it loads or while it is busy are parked on its wait list.
type objectContainer struct {
	meta *meta.ManagedObject

	mu       sync.Mutex
	state    objectState
	instance managedobject.ManagedObject
	object   any
	busy     bool
	err      error
	pending  error
	waiters  []func(error)
}

func (c *objectContainer) managedObject() managedobject.ManagedObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

func (c *objectContainer) value() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case objectReady:
		return c.object, nil
	case objectFailed:
		return nil, c.err
	case objectReleased:
		return nil, &ManagedObjectError{Name: c.meta.Name, Err: errObjectReleased}
	default:
		return nil, &ManagedObjectError{Name: c.meta.Name, Err: errors.New("not loaded")}
	}
}

// acquire readies the object. It reports true when the object is ready now.
// Otherwise, unless an error is returned, resume is called once the object
// is ready or has failed.
func (c *objectContainer) acquire(p *process, resume func(error)) (bool, error) {
	c.mu.Lock()
	switch c.state {
	case objectReady:
		if c.busy {
			c.waiters = append(c.waiters, resume)
			c.mu.Unlock()
			return false, nil
		}
		c.mu.Unlock()
		return true, nil
	case objectFailed:
		err := c.err
		c.mu.Unlock()
		return false, err
	case objectReleased:
		c.mu.Unlock()
		return false, &ManagedObjectError{Name: c.meta.Name, Err: errObjectReleased}
	case objectLoading:
		c.waiters = append(c.waiters, resume)
		c.mu.Unlock()
		return false, nil
	}
	c.state = objectLoading
	c.mu.Unlock()

	err := c.load(p)

	c.mu.Lock()
	if err == nil {
		err = c.pending
	}
	c.pending = nil
	if err != nil {
		c.state = objectFailed
		c.err = err
		waiters := c.takeWaiters()
		c.mu.Unlock()
		notify(waiters, err)
		return false, err
	}
	c.state = objectReady
	if c.busy {
		c.waiters = append(c.waiters, resume)
		c.mu.Unlock()
		return false, nil
	}
	waiters := c.takeWaiters()
	c.mu.Unlock()
	notify(waiters, nil)
	return true, nil
}

func (c *objectContainer) takeWaiters() []func(error) {
	waiters := c.waiters
	c.waiters = nil
	return waiters
}

func notify(waiters []func(error), err error) {
	for _, w := range waiters {
		w(err)
	}
}

func (c *objectContainer) load(p *process) (err error) {
	mo := c.meta
	defer func() {
		if r := recover(); r != nil {
			err = &ManagedObjectError{Name: mo.Name, Err: &team.PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	if mo.Source == nil {
		return &ManagedObjectError{Name: mo.Name, Err: errors.New("no source")}
	}

	var inst managedobject.ManagedObject
	pooled := false
	if mo.Pool != nil {
		inst, pooled = mo.Pool.Get()
	}
	if !pooled {
		created, err := mo.Source.ManagedObject(p.ctx)
		if err != nil {
			return &ManagedObjectError{Name: mo.Name, Err: fmt.Errorf("source: %w", err)}
		}
		inst = created
	}
	c.mu.Lock()
	c.instance = inst
	c.mu.Unlock()

	if async, ok := inst.(managedobject.Asynchronous); ok {
		async.SetAsyncContext(&asyncContext{container: c})
	}
	if coord, ok := inst.(managedobject.Coordinating); ok {
		if err := coord.LoadObjects(&objectRegistry{p: p, mo: mo}); err != nil {
			return &ManagedObjectError{Name: mo.Name, Err: fmt.Errorf("load objects: %w", err)}
		}
	}
	obj, err := inst.Object()
	if err != nil {
		return &ManagedObjectError{Name: mo.Name, Err: fmt.Errorf("object: %w", err)}
	}
	c.mu.Lock()
	c.object = obj
	c.mu.Unlock()
	return nil
}

// asyncContext lets an asynchronous object flag itself busy and ready.
type asyncContext struct {
	container *objectContainer
}

func (a *asyncContext) Start() {
	c := a.container
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = true
}

func (a *asyncContext) Complete(err error) {
	c := a.container
	c.mu.Lock()
	c.busy = false
	if err != nil {
		err = &ManagedObjectError{Name: c.meta.Name, Err: err}
	}
	var waiters []func(error)
	switch c.state {
	case objectReady:
		waiters = c.takeWaiters()
	case objectLoading:
		// Failed before loading returned; acquire fails the object.
		if err != nil && c.pending == nil {
			c.pending = err
		}
	}
	c.mu.Unlock()
	notify(waiters, err)
}

// objectRegistry resolves the dependencies of a coordinating object by index.
type objectRegistry struct {
	p  *process
	mo *meta.ManagedObject
}

func (r *objectRegistry) Object(index int) (any, error) {
	if index < 0 || index >= len(r.mo.Dependencies) {
		return nil, fmt.Errorf("managed object %s: no dependency at index %d", r.mo.Name, index)
	}
	dep := r.mo.Dependencies[index]
	if dep == meta.None {
		return nil, fmt.Errorf("managed object %s: dependency %d not linked", r.mo.Name, index)
	}
	return r.p.objects[dep].value()
}

// loadObjects readies the objects in order, each after the ones before it.
// done is called once, possibly from the goroutine that readies the last
// object.
func (p *process) loadObjects(order []int, done func(error)) {
	p.loadFrom(order, 0, done)
}

func (p *process) loadFrom(order []int, i int, done func(error)) {
	for ; i < len(order); i++ {
		at := i
		ready, err := p.objects[order[i]].acquire(p, func(err error) {
			if err != nil {
				done(err)
				return
			}
			// Re-check: the object may have been flagged busy again.
			p.loadFrom(order, at, done)
		})
		if err != nil {
			done(err)
			return
		}
		if !ready {
			return
		}
	}
	done(nil)
}
