package execute

import (
	"sync"

	"github.com/officefloor/officefloor/internal/meta"
)

type flowKind int

const (
	flowRoot flowKind = iota
	flowSequential
	flowParallel
	flowAsynchronous
)

func (k flowKind) String() string {
	switch k {
	case flowSequential:
		return "sequential"
	case flowParallel:
		return "parallel"
	case flowAsynchronous:
		return "asynchronous"
	default:
		return "root"
	}
}

// flow is one chain of functions. A sequential flow resumes its parent when
// done; a parallel flow counts down its parent's join counter; root and
// asynchronous flows only report to the process.
type flow struct {
	p          *process
	kind       flowKind
	parent     *flow
	instigator *meta.Function
	// resume continues the parent of a sequential flow.
	resume func()
	// teamOverride runs the first function of a root flow on another team.
	teamOverride *meta.Team

	mu         sync.Mutex
	children   int
	joined     func()
	owned      []int
	terminated bool
	completed  bool
}

func (p *process) newFlow(kind flowKind, parent *flow, instigator *meta.Function, resume func()) *flow {
	p.flowStarted()
	if kind == flowParallel {
		parent.mu.Lock()
		parent.children++
		parent.mu.Unlock()
	}
	return &flow{
		p:          p,
		kind:       kind,
		parent:     parent,
		instigator: instigator,
		resume:     resume,
	}
}

func (f *flow) isTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// whenJoined calls cont once every parallel child of f has completed.
func (f *flow) whenJoined(cont func()) {
	f.mu.Lock()
	if f.children == 0 {
		f.mu.Unlock()
		cont()
		return
	}
	f.joined = cont
	f.mu.Unlock()
}

func (f *flow) childDone() {
	f.mu.Lock()
	f.children--
	var cont func()
	if f.children == 0 && f.joined != nil {
		cont = f.joined
		f.joined = nil
	}
	f.mu.Unlock()
	if cont != nil {
		cont()
	}
}

// finish ends the chain normally: join children, finalise owned governance,
// then report completion.
func (f *flow) finish(result any) {
	f.whenJoined(func() {
		if f.p.isTerminated() {
			f.disregardOwned()
			f.done(true)
			return
		}
		if err := f.finalize(f.ownedGovernance()); err != nil {
			f.p.escalate(f, nil, err)
			return
		}
		if f.kind == flowRoot {
			f.p.setResult(result)
		}
		f.done(true)
	})
}

// abort ends the chain without running the rest of it. Owned governance is
// disregarded once the children have joined. notify is false for flows
// unwound by a handled escalation, whose parents do not resume.
func (f *flow) abort(notify bool) {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
	f.whenJoined(func() {
		f.disregardOwned()
		f.done(notify)
	})
}

func (f *flow) done(notify bool) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.mu.Unlock()

	if notify {
		switch f.kind {
		case flowSequential:
			if f.resume != nil {
				f.resume()
			}
		case flowParallel:
			f.parent.childDone()
		}
	}
	f.p.flowDone()
}
