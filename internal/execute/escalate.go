package execute

import (
	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/meta"
)

// Escalation levels.
const (
	LevelFunction   = "function"
	LevelInstigator = "instigator"
	LevelOffice     = "office"
	LevelFloor      = "floor"
)

// escalate routes err raised in flow f by fn (nil for failures of the flow
// itself, such as enforcing its governance). Handlers are searched in order:
//
//   - fn's own bindings, the handler replacing the rest of f
//   - the functions that instigated the flow, walking up sequential links
//     and at most one parallel link
//   - the office bindings
//   - the floor handlers
//
// Without a handler the process is terminated with err.
func (p *process) escalate(f *flow, fn *meta.Function, err error) {
	if fn != nil {
		p.markGovernanceFailed(fn)
	}
	if p.isTerminated() {
		f.abort(true)
		return
	}

	kind := p.office.Kinds.Classify(err)
	source := ""
	if fn != nil {
		source = fn.Name
		if b, ok := fn.Escalations.Resolve(err); ok {
			p.handle(f, f, b.Target, source, kind, LevelFunction, err)
			return
		}
	}

	top := f
	for top.kind == flowSequential || top.kind == flowParallel {
		if b, ok := top.instigator.Escalations.Resolve(err); ok {
			target := top.parent
			if top.kind == flowParallel {
				// The spawner may still be running; the child is replaced.
				target = top
			}
			p.handle(f, target, b.Target, source, kind, LevelInstigator, err)
			return
		}
		if top.kind == flowParallel {
			break
		}
		top = top.parent
	}

	if b, ok := p.office.Escalations.Resolve(err); ok {
		p.handle(f, top, b.Target, source, kind, LevelOffice, err)
		return
	}

	if h, ok := p.floorHandler(err); ok {
		p.unwind(f, top)
		p.engine.observer.EscalationHandled(p.office.Name, source, kind.Name(), "", LevelFloor)
		if herr := h.Handle(p.ctx, p.id, err); herr != nil {
			p.terminate(herr)
			top.abort(true)
			return
		}
		p.logger.Info("escalation handled by floor", "function", source, "kind", kind.Name(), "error", err)
		top.finish(nil)
		return
	}

	p.terminate(err)
	f.abort(true)
}

// handle unwinds from f to target and runs the handler as the rest of target.
func (p *process) handle(f, target *flow, handler int, source string, kind *escalation.Kind, level string, err error) {
	p.unwind(f, target)
	fn := p.office.Functions[handler]
	p.engine.observer.EscalationHandled(p.office.Name, source, kind.Name(), fn.Name, level)
	p.logger.Debug("escalation handled",
		"function", source,
		"kind", kind.Name(),
		"handler", fn.Name,
		"level", level,
		"error", err,
	)
	target.run(fn, err, nil)
}

// unwind aborts the flows from f up to, but excluding, target.
func (p *process) unwind(f, target *flow) {
	for u := f; u != nil && u != target; u = u.parent {
		u.abort(false)
	}
}

func (p *process) floorHandler(err error) (FloorHandler, bool) {
	best := -1
	for i, h := range p.engine.floor {
		if h.Kind == nil || h.Handle == nil || !h.Kind.Matches(err) {
			continue
		}
		if best < 0 || h.Kind.Depth() > p.engine.floor[best].Kind.Depth() {
			best = i
		}
	}
	if best < 0 {
		return FloorHandler{}, false
	}
	return p.engine.floor[best], true
}
