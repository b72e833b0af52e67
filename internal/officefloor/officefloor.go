// Package officefloor opens a configured floor: it compiles the offices,
// starts the managed object sources that instigate work of their own and
// exposes the office inputs as process invocations.
package officefloor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/construct"
	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/meta"
	"github.com/officefloor/officefloor/internal/source"
)

var (
	// ErrClosed is returned when invoking a closed office floor.
	ErrClosed = errors.New("office floor closed")
	// ErrUnknownInput is returned for an office or function that does not exist.
	ErrUnknownInput = errors.New("unknown input")
)

//go:generate mockgen -destination=mocks/mock_journal.go -package=mocks github.com/officefloor/officefloor/internal/officefloor Journal

// Journal records the processes started through the office floor.
type Journal interface {
	Begin(ctx context.Context, req journal.BeginRequest) error
	Complete(ctx context.Context, outcome execute.Outcome, elapsed time.Duration) error
}

// FloorHandler handles escalations of the given kind that no office handled.
// Returning nil recovers the process.
type FloorHandler struct {
	Kind   string
	Handle func(ctx context.Context, office, processID string, err error) error
}

// Options configure Open.
type Options struct {
	// Registry supplies the sources named by the configuration.
	Registry      *source.Registry
	Observers     []execute.Observer
	Journal       Journal
	FloorHandlers []FloorHandler
}

// OfficeFloor is an opened floor.
type OfficeFloor struct {
	cfg     *config.Floor
	floor   *meta.Floor
	engines map[string]*execute.Engine
	journal Journal
	logger  *slog.Logger

	// ctx lives until Close and is handed to started sources.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started []startedSource
}

// Open compiles cfg and starts the floor. A compile failure is returned as
// an *issues.Error.
func Open(ctx context.Context, cfg *config.Floor, opts Options) (*OfficeFloor, error) {
	reg := opts.Registry
	if reg == nil {
		reg = source.NewRegistry()
	}
	logger := log.WithComponent("officefloor")

	handlers := make([]resolvedHandler, 0, len(opts.FloorHandlers))
	for _, h := range opts.FloorHandlers {
		kind, ok := reg.Kinds().Lookup(h.Kind)
		if !ok {
			return nil, fmt.Errorf("floor handler: unknown escalation kind %q", h.Kind)
		}
		handlers = append(handlers, resolvedHandler{FloorHandler: h, kind: kind})
	}

	floor, err := construct.Compile(cfg, reg)
	if err != nil {
		return nil, err
	}

	var observers execute.Observers
	for _, o := range opts.Observers {
		if o != nil {
			observers = append(observers, o)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &OfficeFloor{
		cfg:     cfg,
		floor:   floor,
		engines: make(map[string]*execute.Engine, len(floor.Offices)),
		journal: opts.Journal,
		logger:  logger,
		ctx:     runCtx,
		cancel:  cancel,
	}
	for _, office := range floor.Offices {
		f.engines[office.Name] = execute.New(office, execute.Options{
			Logger:        log.WithOffice(office.Name),
			Observer:      observers,
			FloorHandlers: floorHandlers(office.Name, handlers),
		})
	}

	if err := f.startSources(); err != nil {
		_ = f.Close(ctx)
		return nil, err
	}

	logger.Info("office floor opened",
		"service", cfg.Service.Name,
		"offices", len(floor.Offices),
		"teams", len(floor.Teams),
		"started_sources", len(f.started),
	)
	return f, nil
}

type resolvedHandler struct {
	FloorHandler
	kind *escalation.Kind
}

func floorHandlers(office string, handlers []resolvedHandler) []execute.FloorHandler {
	out := make([]execute.FloorHandler, 0, len(handlers))
	for _, h := range handlers {
		handle := h.Handle
		out = append(out, execute.FloorHandler{
			Kind: h.kind,
			Handle: func(ctx context.Context, processID string, err error) error {
				return handle(ctx, office, processID, err)
			},
		})
	}
	return out
}

// Offices returns the compiled offices sorted by name.
func (f *OfficeFloor) Offices() []*meta.Office {
	out := append([]*meta.Office(nil), f.floor.Offices...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Teams returns the floor teams.
func (f *OfficeFloor) Teams() []*meta.Team {
	return f.floor.Teams
}

// Config returns the configuration the floor was opened with.
func (f *OfficeFloor) Config() *config.Floor { return f.cfg }

// Active returns the number of running processes across every office.
func (f *OfficeFloor) Active() int {
	n := 0
	for _, e := range f.engines {
		n += e.Active()
	}
	return n
}

// Invoke starts a process at function of office. callback, when non-nil,
// receives the outcome.
func (f *OfficeFloor) Invoke(ctx context.Context, office, function string, parameter any, callback func(execute.Outcome)) (string, error) {
	e, ok := f.engines[office]
	if !ok {
		return "", fmt.Errorf("%w: office %q", ErrUnknownInput, office)
	}
	fn, ok := e.Office().Function(function)
	if !ok {
		return "", fmt.Errorf("%w: office %s: %w: %s", ErrUnknownInput, office, execute.ErrUnknownFunction, function)
	}
	return f.start(ctx, e, fn, parameter, nil, submitter(ctx), callback)
}

// InvokeAndWait starts a process and waits for its outcome. If ctx is done
// first the process keeps running and ctx.Err() is returned.
func (f *OfficeFloor) InvokeAndWait(ctx context.Context, office, function string, parameter any) (execute.Outcome, error) {
	ch := make(chan execute.Outcome, 1)
	id, err := f.Invoke(ctx, office, function, parameter, func(o execute.Outcome) { ch <- o })
	if err != nil {
		return execute.Outcome{}, err
	}
	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return execute.Outcome{ProcessID: id}, ctx.Err()
	}
}

func (f *OfficeFloor) start(ctx context.Context, e *execute.Engine, fn *meta.Function, parameter any, team *meta.Team, submittedBy string, callback func(execute.Outcome)) (string, error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	office := e.Office().Name
	if f.journal != nil {
		err := f.journal.Begin(ctx, journal.BeginRequest{
			ID:          id,
			Office:      office,
			Function:    fn.Name,
			Parameter:   parameter,
			SubmittedBy: submittedBy,
		})
		if err != nil {
			f.logger.Warn("journal begin failed", "office", office, "process_id", id, "error", err)
		}
	}

	started := time.Now()
	done := func(outcome execute.Outcome) {
		if f.journal != nil {
			jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.journal.Complete(jctx, outcome, time.Since(started)); err != nil {
				f.logger.Warn("journal complete failed", "office", office, "process_id", outcome.ProcessID, "error", err)
			}
			cancel()
		}
		if callback != nil {
			callback(outcome)
		}
	}

	return e.Start(ctx, execute.Invocation{
		ProcessID: id,
		Function:  fn,
		Parameter: parameter,
		Team:      team,
		Callback:  done,
	}), nil
}

// Close stops the started sources, lets running processes finish within the
// drain timeout and stops the teams. Queued jobs still pending when the
// timeout passes fail with team.ErrTeamStopped.
func (f *OfficeFloor) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	f.started = nil
	f.mu.Unlock()

	f.cancel()
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].stop(); err != nil {
			errs = append(errs, err)
		}
	}

	drainCtx := ctx
	if timeout := f.cfg.Service.DrainTimeout; timeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for name, e := range f.engines {
		if err := e.Wait(drainCtx); err != nil {
			f.logger.Warn("processes still running at close", "office", name, "active", e.Active())
			break
		}
	}
	for _, t := range f.floor.Teams {
		if err := t.Team.Stop(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop team %s: %w", t.Name, err))
		}
	}

	f.logger.Info("office floor closed", "service", f.cfg.Service.Name)
	return errors.Join(errs...)
}

type submitterKey struct{}

// WithSubmitter records who invokes processes through ctx. The name is
// journalled with each process.
func WithSubmitter(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, submitterKey{}, name)
}

func submitter(ctx context.Context) string {
	if s, ok := ctx.Value(submitterKey{}).(string); ok && s != "" {
		return s
	}
	return "invoke"
}
