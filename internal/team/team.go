// Package team provides the executors that run jobs for the engine.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
)

// ErrTeamStopped is reported for jobs refused or cancelled by a stopped team.
var ErrTeamStopped = errors.New("team stopped")

// Job is one unit of work handed to a team.
type Job interface {
	// Run executes the job.
	Run()
	// Fail is called instead of, or after a panic in, Run.
	Fail(err error)
}

// Team runs jobs.
type Team interface {
	Name() string
	// Assign hands job to the team. Pooled teams return immediately;
	// passive teams run the job on the calling goroutine.
	Assign(job Job) error
	// Stop refuses new jobs and lets queued jobs drain until ctx is done.
	// Jobs still queued at that point are failed with ErrTeamStopped.
	Stop(ctx context.Context) error
}

// Context describes the team being created.
type Context interface {
	Name() string
	Property(name, def string) string
	Logger() *slog.Logger
}

// Source creates teams of one type.
type Source interface {
	CreateTeam(ctx Context) (Team, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx Context) (Team, error)

// CreateTeam calls f(ctx).
func (f SourceFunc) CreateTeam(ctx Context) (Team, error) { return f(ctx) }

// Built in team types.
const (
	TypeWorkerPool = "worker-pool"
	TypeOneThread  = "one-thread"
	TypePassive    = "passive"
)

// Builtin returns the built in team sources keyed by type.
func Builtin() map[string]Source {
	return map[string]Source{
		TypeWorkerPool: SourceFunc(createWorkerPool),
		TypeOneThread: SourceFunc(func(ctx Context) (Team, error) {
			return NewWorkerPool(ctx.Name(), 1, PoolOptions{Logger: ctx.Logger()}), nil
		}),
		TypePassive: SourceFunc(func(ctx Context) (Team, error) {
			return NewPassive(ctx.Name(), ctx.Logger()), nil
		}),
	}
}

func createWorkerPool(ctx Context) (Team, error) {
	size, err := intProperty(ctx, "size", 4)
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("team %s: size must be at least 1 (got %d)", ctx.Name(), size)
	}
	opts := PoolOptions{Logger: ctx.Logger()}
	if v := ctx.Property("rate", ""); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("team %s: invalid rate %q", ctx.Name(), v)
		}
		burst, err := intProperty(ctx, "burst", 1)
		if err != nil {
			return nil, err
		}
		opts.Rate = rate
		opts.Burst = burst
	}
	return NewWorkerPool(ctx.Name(), size, opts), nil
}

func intProperty(ctx Context, name string, def int) (int, error) {
	v := ctx.Property(name, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("team %s: invalid %s %q: %w", ctx.Name(), name, v, err)
	}
	return n, nil
}

// PanicError is a panic recovered while running a job.
type PanicError struct {
	Team  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if e.Team == "" {
		return fmt.Sprintf("panic: %v", e.Value)
	}
	return fmt.Sprintf("panic in team %s: %v", e.Team, e.Value)
}

// PanicKind is the escalation kind of a recovered panic. The escalation
// package registers its panic kind under this name.
const PanicKind = "panic"

// EscalationKind classifies the error as a panic.
func (e *PanicError) EscalationKind() string { return PanicKind }

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// run executes job and converts a panic into Fail.
func run(team string, job Job, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Team: team, Value: r, Stack: debug.Stack()}
			logger.Error("job panicked", "panic", fmt.Sprint(r))
			job.Fail(perr)
		}
	}()
	job.Run()
}
