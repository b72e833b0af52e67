package execute

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/meta"
)

// process is the state of one invocation: its managed objects, governance
// and live flows.
type process struct {
	id       string
	engine   *Engine
	office   *meta.Office
	ctx      context.Context
	logger   *slog.Logger
	entry    string
	started  time.Time
	callback func(Outcome)

	objects    []*objectContainer
	governance []*governance.Container

	mu         sync.Mutex
	flows      int
	terminated bool
	result     any
	err        error
	completed  bool
}

func newProcess(ctx context.Context, e *Engine, id, entry string, callback func(Outcome)) *process {
	p := &process{
		id:       id,
		engine:   e,
		office:   e.office,
		ctx:      ctx,
		logger:   e.logger.With("process_id", id),
		entry:    entry,
		started:  time.Now(),
		callback: callback,
	}
	p.objects = make([]*objectContainer, len(e.office.ManagedObjects))
	for i, mo := range e.office.ManagedObjects {
		p.objects[i] = &objectContainer{meta: mo}
	}
	p.governance = make([]*governance.Container, len(e.office.Governances))
	for i, g := range e.office.Governances {
		p.governance[i] = governance.NewContainer(g.Name, g.Source)
	}
	return p
}

func (p *process) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// terminate fails the process. Only the first error is reported.
func (p *process) terminate(err error) {
	p.mu.Lock()
	first := !p.terminated
	if first {
		p.terminated = true
		p.err = err
	}
	p.mu.Unlock()
	if first {
		p.logger.Error("process failed", "error", err)
	}
}

func (p *process) setResult(result any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
}

func (p *process) flowStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flows++
}

func (p *process) flowDone() {
	p.mu.Lock()
	p.flows--
	last := p.flows == 0 && !p.completed
	if last {
		p.completed = true
	}
	p.mu.Unlock()
	if last {
		p.complete()
	}
}

// complete releases the process once its last flow is done.
func (p *process) complete() {
	for _, c := range p.governance {
		if !c.Active() {
			continue
		}
		err := c.Disregard(p.ctx)
		p.engine.observer.GovernanceFinalized(p.office.Name, c.Name(), governance.StateDisregarded, err)
		if err != nil {
			p.logger.Warn("disregard governance failed", "governance", c.Name(), "error", err)
		}
	}

	for i := len(p.objects) - 1; i >= 0; i-- {
		p.objects[i].release(p)
	}

	p.mu.Lock()
	outcome := Outcome{ProcessID: p.id, Result: p.result, Err: p.err}
	p.mu.Unlock()

	elapsed := time.Since(p.started)
	p.engine.observer.ProcessCompleted(p.office.Name, outcome, elapsed)
	if outcome.Err == nil {
		p.logger.Debug("process completed", "function", p.entry, "duration_ms", elapsed.Milliseconds())
	}
	if p.callback != nil {
		p.callback(outcome)
	}
	p.engine.track(-1)
}

func (c *objectContainer) release(p *process) {
	c.mu.Lock()
	inst := c.instance
	c.instance = nil
	c.object = nil
	c.state = objectReleased
	c.mu.Unlock()
	if inst == nil {
		return
	}
	err := managedobject.Recycle(c.meta.Pool, inst)
	if err != nil && !errors.Is(err, managedobject.ErrNotRecycled) {
		p.logger.Warn("release managed object failed", "managed_object", c.meta.Name, "error", err)
	}
}
