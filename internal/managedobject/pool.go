package managedobject

import (
	"errors"
	"fmt"
	"sync"
)

// Pool recycles managed objects between processes.
type Pool interface {
	// Get returns a pooled instance, or false when the pool is empty.
	Get() (ManagedObject, bool)
	// Put offers mo back to the pool. It returns false when mo was not
	// retained and should be discarded.
	Put(mo ManagedObject) bool
}

// BoundedPool is a LIFO pool holding at most capacity idle instances.
// The most recently released instance is handed out first.
type BoundedPool struct {
	mu       sync.Mutex
	idle     []ManagedObject
	capacity int
}

var _ Pool = (*BoundedPool)(nil)

// NewBoundedPool creates a pool retaining up to capacity idle instances.
func NewBoundedPool(capacity int) (*BoundedPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive (got %d)", capacity)
	}
	return &BoundedPool{
		idle:     make([]ManagedObject, 0, capacity),
		capacity: capacity,
	}, nil
}

func (p *BoundedPool) Get() (ManagedObject, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		return nil, false
	}
	mo := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return mo, true
}

func (p *BoundedPool) Put(mo ManagedObject) bool {
	if mo == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.capacity {
		return false
	}
	p.idle = append(p.idle, mo)
	return true
}

// Idle returns the number of pooled instances.
func (p *BoundedPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// ErrNotRecycled is returned by Recycle when the instance was discarded.
var ErrNotRecycled = errors.New("managed object not recycled")

// Recycle returns mo to pool after running its reset hook. When there is no
// pool, the reset fails or the pool is full, mo is closed if it implements
// Close and ErrNotRecycled (or the reset error) is returned.
func Recycle(pool Pool, mo ManagedObject) error {
	if pool != nil {
		var resetErr error
		if r, ok := mo.(Resettable); ok {
			resetErr = r.Reset()
		}
		if resetErr == nil && pool.Put(mo) {
			return nil
		}
		if resetErr != nil {
			return errors.Join(fmt.Errorf("reset managed object: %w", resetErr), discard(mo))
		}
	}
	if err := discard(mo); err != nil {
		return err
	}
	return ErrNotRecycled
}

func discard(mo ManagedObject) error {
	if c, ok := mo.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close managed object: %w", err)
		}
	}
	return nil
}
