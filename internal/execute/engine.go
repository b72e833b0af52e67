// Package execute runs the processes of a compiled office.
//
// A process starts at one function and grows a tree of flows. Functions only
// ever run on their team; the engine itself parks continuations (objects
// awaiting readiness, flows awaiting parallel children) instead of blocking.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/meta"
)

// ErrUnknownFunction is returned when invoking a function the office lacks.
var ErrUnknownFunction = errors.New("unknown function")

// Outcome is delivered once per process.
type Outcome struct {
	ProcessID string
	// Result is the value returned by the last function of the root flow.
	Result any
	// Err is the escalation no handler took, if any.
	Err error
}

// FloorHandler handles escalations no office handler took. Returning nil
// recovers the process; returning an error fails it with that error.
type FloorHandler struct {
	Kind   *escalation.Kind
	Handle func(ctx context.Context, processID string, err error) error
}

// Observer is told about process activity. Implementations must not block.
type Observer interface {
	ProcessStarted(office, function, processID string)
	ProcessCompleted(office string, outcome Outcome, elapsed time.Duration)
	JobExecuted(office, function, team string, elapsed time.Duration, err error)
	EscalationHandled(office, function, kind, handler, level string)
	GovernanceFinalized(office, gov string, state governance.State, err error)
}

// Options configure an Engine.
type Options struct {
	Logger        *slog.Logger
	Observer      Observer
	FloorHandlers []FloorHandler
}

// Engine runs processes for one office.
type Engine struct {
	office   *meta.Office
	logger   *slog.Logger
	observer Observer
	floor    []FloorHandler

	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// New creates an engine for office.
func New(office *meta.Office, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithOffice(office.Name)
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine{
		office:   office,
		logger:   logger,
		observer: observer,
		floor:    opts.FloorHandlers,
	}
}

// Office returns the compiled office.
func (e *Engine) Office() *meta.Office { return e.office }

// Invoke starts a process at the named function. callback, when non-nil,
// receives the outcome once every flow of the process has completed.
func (e *Engine) Invoke(ctx context.Context, function string, parameter any, callback func(Outcome)) (string, error) {
	fn, ok := e.office.Function(function)
	if !ok {
		return "", fmt.Errorf("office %s: %w: %s", e.office.Name, ErrUnknownFunction, function)
	}
	return e.Start(ctx, Invocation{Function: fn, Parameter: parameter, Callback: callback}), nil
}

// Invocation describes one process to start.
type Invocation struct {
	// ProcessID is generated when empty.
	ProcessID string
	Function  *meta.Function
	Parameter any
	// Team, when set, runs the first function instead of the function's own team.
	Team     *meta.Team
	Callback func(Outcome)
}

// Start starts the process described by inv and returns its id.
func (e *Engine) Start(ctx context.Context, inv Invocation) string {
	id := inv.ProcessID
	if id == "" {
		id = uuid.NewString()
	}
	fn := inv.Function
	p := newProcess(ctx, e, id, fn.Name, inv.Callback)
	e.track(1)
	e.observer.ProcessStarted(e.office.Name, fn.Name, p.id)
	p.logger.Debug("process started", "function", fn.Name)

	root := p.newFlow(flowRoot, nil, nil, nil)
	root.teamOverride = inv.Team
	root.run(fn, inv.Parameter, nil)
	return p.id
}

// InvokeAndWait starts a process and waits for its outcome. If ctx is done
// first the process keeps running and ctx.Err() is returned.
func (e *Engine) InvokeAndWait(ctx context.Context, function string, parameter any) (Outcome, error) {
	ch := make(chan Outcome, 1)
	id, err := e.Invoke(ctx, function, parameter, func(o Outcome) { ch <- o })
	if err != nil {
		return Outcome{}, err
	}
	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return Outcome{ProcessID: id}, ctx.Err()
	}
}

// Active returns the number of running processes.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Wait blocks until no process is running or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.active == 0 {
		e.mu.Unlock()
		return nil
	}
	if e.idle == nil {
		e.idle = make(chan struct{})
	}
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) track(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active += delta
	if e.active == 0 && e.idle != nil {
		close(e.idle)
		e.idle = nil
	}
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) ProcessStarted(string, string, string) {}
func (NopObserver) ProcessCompleted(string, Outcome, time.Duration) {}
func (NopObserver) JobExecuted(string, string, string, time.Duration, error) {}
func (NopObserver) EscalationHandled(string, string, string, string, string) {}
func (NopObserver) GovernanceFinalized(string, string, governance.State, error) {}

// Observers fans out to several observers.
type Observers []Observer

func (o Observers) ProcessStarted(office, function, processID string) {
	for _, obs := range o {
		obs.ProcessStarted(office, function, processID)
	}
}

func (o Observers) ProcessCompleted(office string, outcome Outcome, elapsed time.Duration) {
	for _, obs := range o {
		obs.ProcessCompleted(office, outcome, elapsed)
	}
}

func (o Observers) JobExecuted(office, function, team string, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.JobExecuted(office, function, team, elapsed, err)
	}
}

func (o Observers) EscalationHandled(office, function, kind, handler, level string) {
	for _, obs := range o {
		obs.EscalationHandled(office, function, kind, handler, level)
	}
}

func (o Observers) GovernanceFinalized(office, gov string, state governance.State, err error) {
	for _, obs := range o {
		obs.GovernanceFinalized(office, gov, state, err)
	}
}
