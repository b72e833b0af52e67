package execute

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/meta"
	"github.com/officefloor/officefloor/internal/team"
)

// maxInline bounds how many same-team continuations run on one goroutine
// before the next one is handed back to the team.
const maxInline = 64

// job runs one function of a flow on its team.
type job struct {
	flow    *flow
	fn      *meta.Function
	param   any
	team    *meta.Team
	depth   int
	settled atomic.Bool
}

var _ team.Job = (*job)(nil)

// run readies fn for f and dispatches it. via is the job whose goroutine is
// calling, which lets a same-team continuation run inline.
func (f *flow) run(fn *meta.Function, param any, via *job) {
	p := f.p
	if p.isTerminated() || f.isTerminated() {
		f.abort(true)
		return
	}

	var returned atomic.Bool
	defer returned.Store(true)
	current := func() *job {
		if returned.Load() {
			return nil
		}
		return via
	}

	f.prepareGovernance(fn, func() {
		p.loadObjects(fn.LoadOrder, func(err error) {
			if err != nil {
				p.escalate(f, fn, err)
				return
			}
			if p.isTerminated() {
				f.abort(true)
				return
			}
			if err := recovered(func() error { return f.activateGovernance(fn) }); err != nil {
				p.escalate(f, fn, err)
				return
			}
			t := fn.Team
			if f.teamOverride != nil {
				t = f.teamOverride
				f.teamOverride = nil
			}
			p.dispatch(&job{flow: f, fn: fn, param: param, team: t}, current())
		})
	})
}

// recovered runs ready, returning a panic as a *team.PanicError. Readying
// runs on the goroutine of a job that has already settled.
func recovered(ready func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &team.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return ready()
}

func (p *process) dispatch(j *job, via *job) {
	if j.team == nil {
		p.terminate(fmt.Errorf("function %s: no team", j.fn.Name))
		j.flow.abort(true)
		return
	}
	if via != nil && via.team == j.team && via.depth < maxInline {
		j.depth = via.depth + 1
		j.runInline()
		return
	}
	if err := j.team.Team.Assign(j); err != nil {
		p.terminate(fmt.Errorf("function %s: %w", j.fn.Name, err))
		j.flow.abort(true)
	}
}

// runInline runs the job on the calling goroutine. Panics are recovered here
// as the enclosing job has already settled.
func (j *job) runInline() {
	defer func() {
		if r := recover(); r != nil {
			j.Fail(&team.PanicError{Team: j.team.Name, Value: r, Stack: debug.Stack()})
		}
	}()
	j.Run()
}

func (j *job) Run() {
	f, fn, p := j.flow, j.fn, j.flow.p
	ctx := &functionContext{job: j}

	start := time.Now()
	result, err := fn.Function.Execute(ctx)
	if !j.settled.CompareAndSwap(false, true) {
		return
	}
	p.engine.observer.JobExecuted(p.office.Name, fn.Name, j.team.Name, time.Since(start), err)
	if err != nil {
		p.escalate(f, fn, err)
		return
	}
	f.afterFunction(j, result, ctx.takeInstigations())
}

func (j *job) Fail(err error) {
	if !j.settled.CompareAndSwap(false, true) {
		return
	}
	p := j.flow.p
	p.engine.observer.JobExecuted(p.office.Name, j.fn.Name, j.team.Name, 0, err)
	p.escalate(j.flow, j.fn, err)
}

type instigation struct {
	flow      meta.Flow
	parameter any
}

// afterFunction starts the flows fn instigated, then continues the chain with
// fn's next function. Sequential flows run in order before the next function.
func (f *flow) afterFunction(j *job, result any, instigations []instigation) {
	p := f.p
	if p.isTerminated() {
		f.abort(true)
		return
	}
	var sequential []instigation
	for _, in := range instigations {
		target := p.office.Functions[in.flow.Target]
		switch in.flow.Strategy {
		case meta.Parallel:
			child := p.newFlow(flowParallel, f, j.fn, nil)
			child.run(target, in.parameter, nil)
		case meta.Asynchronous:
			child := p.newFlow(flowAsynchronous, nil, j.fn, nil)
			child.run(target, in.parameter, nil)
		default:
			sequential = append(sequential, in)
		}
	}
	f.runSequential(j.fn, sequential, j, func(via *job) {
		f.next(j.fn, result, via)
	})
}

func (f *flow) runSequential(instigator *meta.Function, pending []instigation, via *job, then func(via *job)) {
	if len(pending) == 0 {
		then(via)
		return
	}
	in := pending[0]
	child := f.p.newFlow(flowSequential, f, instigator, func() {
		if f.p.isTerminated() {
			f.abort(true)
			return
		}
		f.runSequential(instigator, pending[1:], nil, then)
	})
	child.run(f.p.office.Functions[in.flow.Target], in.parameter, via)
}

func (f *flow) next(fn *meta.Function, result any, via *job) {
	if fn.Next == meta.None {
		f.finish(result)
		return
	}
	f.run(f.p.office.Functions[fn.Next], result, via)
}

// functionContext is handed to a function for one execution.
type functionContext struct {
	job *job

	mu           sync.Mutex
	instigations []instigation
}

func (c *functionContext) Context() context.Context { return c.job.flow.p.ctx }

func (c *functionContext) ProcessID() string { return c.job.flow.p.id }

func (c *functionContext) Parameter() any { return c.job.param }

func (c *functionContext) Object(index int) (any, error) {
	fn := c.job.fn
	if index < 0 || index >= len(fn.Objects) {
		return nil, fmt.Errorf("%w: function %s has no object at index %d", escalation.ErrIllegalArgument, fn.Name, index)
	}
	return c.job.flow.p.objects[fn.Objects[index]].value()
}

func (c *functionContext) DoFlow(key string, parameter any) error {
	fl, ok := c.job.fn.Flows[key]
	if !ok {
		return fmt.Errorf("%w: function %s has no flow %q", escalation.ErrIllegalArgument, c.job.fn.Name, key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instigations = append(c.instigations, instigation{flow: fl, parameter: parameter})
	return nil
}

func (c *functionContext) takeInstigations() []instigation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.instigations
	c.instigations = nil
	return out
}
