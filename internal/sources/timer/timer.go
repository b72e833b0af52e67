// Package timer supplies a managed object source that instigates its tick flow
// on a schedule.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
)

// Type is the registered type name.
const Type = "timer"

// FlowTick is the flow instigated on every scheduled run.
const FlowTick = "tick"

// PropertySchedule names the schedule property.
const PropertySchedule = "schedule"

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts a cron expression, a descriptor such as @daily, one
// of hourly, daily, weekly or monthly, or a positive duration like 5m.
func ParseSchedule(spec string) (cron.Schedule, error) {
	switch spec {
	case "":
		return nil, fmt.Errorf("schedule is required")
	case "hourly", "daily", "weekly", "monthly":
		spec = "@" + spec
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule interval must be positive: %q", spec)
		}
		return cron.Every(d), nil
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Tick is the parameter of the tick flow.
type Tick struct {
	At        time.Time `json:"at"`
	Run       int64     `json:"run"`
	Parameter string    `json:"parameter,omitempty"`
}

// Source runs one cron schedule per configured timer.
type Source struct {
	schedule  cron.Schedule
	jitter    time.Duration
	overlap   bool
	parameter string
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron

	runs     atomic.Int64
	last     atomic.Int64
	inflight atomic.Bool
}

var (
	_ managedobject.Source  = (*Source)(nil)
	_ managedobject.Starter = (*Source)(nil)
	_ managedobject.Stopper = (*Source)(nil)
)

// NewSource creates an unconfigured source.
func NewSource() managedobject.Source { return &Source{} }

func (s *Source) Specification() []managedobject.Property {
	return []managedobject.Property{
		{Name: PropertySchedule, Label: "Cron expression or interval", Required: true},
		{Name: "jitter", Label: "Random delay added to each run", Default: "0s"},
		{Name: "overlap", Label: "Start a run while the previous one is active", Default: "false"},
		{Name: "parameter", Label: "Parameter passed with every tick"},
	}
}

func (s *Source) Init(ctx managedobject.InitContext) (*managedobject.MetaData, error) {
	schedule, err := ParseSchedule(ctx.Property(PropertySchedule, ""))
	if err != nil {
		return nil, err
	}
	jitter, err := time.ParseDuration(ctx.Property("jitter", "0s"))
	if err != nil || jitter < 0 {
		return nil, fmt.Errorf("invalid jitter %q", ctx.Property("jitter", ""))
	}
	overlap, err := strconv.ParseBool(ctx.Property("overlap", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid overlap %q: %w", ctx.Property("overlap", ""), err)
	}
	s.schedule = schedule
	s.jitter = jitter
	s.overlap = overlap
	s.parameter = ctx.Property("parameter", "")
	s.logger = log.WithOffice(ctx.Office()).With("component", "timer", "managed_object", ctx.Name())
	return &managedobject.MetaData{
		ObjectType: "*timer.Timer",
		Flows:      []string{FlowTick},
	}, nil
}

func (s *Source) ManagedObject(context.Context) (managedobject.ManagedObject, error) {
	return managedobject.Value(&Timer{source: s}), nil
}

// Start schedules the tick flow.
func (s *Source) Start(ctx managedobject.ExecuteContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("timer already started")
	}
	c := cron.New(cron.WithParser(parser))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.fire(ctx) }))
	c.Start()
	s.cron = c
	s.logger.Info("timer started", "next", s.schedule.Next(time.Now()))
	return nil
}

// Stop halts the schedule and waits for a running fire to return.
func (s *Source) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	s.logger.Info("timer stopped", "runs", s.runs.Load())
	return nil
}

func (s *Source) fire(ctx managedobject.ExecuteContext) {
	if s.jitter > 0 {
		delay := time.Duration(rand.Int63n(s.jitter.Nanoseconds()))
		select {
		case <-time.After(delay):
		case <-ctx.Context().Done():
			return
		}
	}
	if !s.overlap && !s.inflight.CompareAndSwap(false, true) {
		s.logger.Info("skipped tick, previous run still active")
		return
	}

	now := time.Now()
	tick := Tick{At: now, Run: s.runs.Add(1), Parameter: s.parameter}
	s.last.Store(now.UnixNano())
	err := ctx.InvokeFlow(FlowTick, tick, func(_ any, err error) {
		s.inflight.Store(false)
		if err != nil {
			s.logger.Warn("tick failed", "run", tick.Run, "error", err)
		}
	})
	if err != nil {
		s.inflight.Store(false)
		s.logger.Error("failed to instigate tick", "run", tick.Run, "error", err)
	}
}

// Timer is the object handed to functions depending on a timer.
type Timer struct {
	source *Source
}

// Runs returns how many ticks have been instigated.
func (t *Timer) Runs() int64 { return t.source.runs.Load() }

// Last returns when the last tick was instigated, or the zero time.
func (t *Timer) Last() time.Time {
	ns := t.source.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Next returns when the next tick is due.
func (t *Timer) Next() time.Time { return t.source.schedule.Next(time.Now()) }
