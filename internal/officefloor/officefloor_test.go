package officefloor_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/function"
	"github.com/officefloor/officefloor/internal/issues"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/officefloor"
	"github.com/officefloor/officefloor/internal/officefloor/mocks"
	"github.com/officefloor/officefloor/internal/source"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const testFloor = `
service:
  name: test
  drain_timeout: 2s
teams:
  - name: fast
    type: worker-pool
    properties:
      size: "2"
  - name: slow
    type: one-thread
offices:
  - name: TEST
    functions:
      - name: A
        type: pass
        team: fast
        next: B
      - name: B
        type: fail-state
        team: slow
      - name: echo
        type: pass
        team: fast
`

func parse(t *testing.T, yaml string) *config.Floor {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func registry(t *testing.T) *source.Registry {
	t.Helper()
	reg := source.NewRegistry()
	require.NoError(t, reg.RegisterFunction("pass", function.Of(function.Func(func(ctx function.Context) (any, error) {
		return ctx.Parameter(), nil
	}))))
	require.NoError(t, reg.RegisterFunction("fail-state", function.Of(function.Func(func(function.Context) (any, error) {
		return nil, fmt.Errorf("B: %w", escalation.ErrIllegalState)
	}))))
	return reg
}

func open(t *testing.T, cfg *config.Floor, opts officefloor.Options) *officefloor.OfficeFloor {
	t.Helper()
	f, err := officefloor.Open(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func invoke(t *testing.T, f *officefloor.OfficeFloor, office, fn string, param any) execute.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.InvokeAndWait(ctx, office, fn, param)
	require.NoError(t, err)
	return out
}

func TestScenarioFailureReportedOnce(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	j := mocks.NewMockJournal(ctrl)
	j.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req journal.BeginRequest) error {
		assert.Equal(t, "TEST", req.Office)
		assert.Equal(t, "A", req.Function)
		assert.Equal(t, "tester", req.SubmittedBy)
		return nil
	}).Times(1)
	j.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, out execute.Outcome, _ time.Duration) error {
		assert.ErrorIs(t, out.Err, escalation.ErrIllegalState)
		return nil
	}).Times(1)

	f := open(t, parse(t, testFloor), officefloor.Options{Registry: registry(t), Journal: j})

	var calls atomic.Int32
	outcomes := make(chan execute.Outcome, 2)
	ctx := officefloor.WithSubmitter(context.Background(), "tester")
	id, err := f.Invoke(ctx, "TEST", "A", "x", func(out execute.Outcome) {
		calls.Add(1)
		outcomes <- out
	})
	require.NoError(t, err)

	select {
	case out := <-outcomes:
		assert.Equal(t, id, out.ProcessID)
		assert.ErrorIs(t, out.Err, escalation.ErrIllegalState)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not complete")
	}
	require.NoError(t, f.Close(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeUnknownInput(t *testing.T) {
	t.Parallel()
	f := open(t, parse(t, testFloor), officefloor.Options{Registry: registry(t)})

	_, err := f.Invoke(context.Background(), "NOPE", "A", nil, nil)
	assert.ErrorIs(t, err, officefloor.ErrUnknownInput)

	_, err = f.Invoke(context.Background(), "TEST", "Z", nil, nil)
	assert.ErrorIs(t, err, officefloor.ErrUnknownInput)
	assert.ErrorIs(t, err, execute.ErrUnknownFunction)
}

func TestInvokeAfterClose(t *testing.T) {
	t.Parallel()
	f := open(t, parse(t, testFloor), officefloor.Options{Registry: registry(t)})
	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))

	_, err := f.Invoke(context.Background(), "TEST", "echo", nil, nil)
	assert.ErrorIs(t, err, officefloor.ErrClosed)
}

func TestCloseDrainsRunningProcesses(t *testing.T) {
	t.Parallel()
	reg := registry(t)
	release := make(chan struct{})
	require.NoError(t, reg.RegisterFunction("wait", function.Of(function.Func(func(function.Context) (any, error) {
		<-release
		return "drained", nil
	}))))
	cfg := parse(t, `
teams:
  - name: fast
    type: worker-pool
offices:
  - name: SLOW
    functions:
      - name: wait
        type: wait
        team: fast
`)
	f := open(t, cfg, officefloor.Options{Registry: reg})

	outcomes := make(chan execute.Outcome, 1)
	_, err := f.Invoke(context.Background(), "SLOW", "wait", nil, func(o execute.Outcome) { outcomes <- o })
	require.NoError(t, err)
	assert.Equal(t, 1, f.Active())

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, f.Close(context.Background()))

	select {
	case out := <-outcomes:
		assert.Equal(t, "drained", out.Result)
	default:
		t.Fatal("close returned before the process completed")
	}
}

func TestFloorHandlerRecovers(t *testing.T) {
	t.Parallel()
	var seen sync.Map
	f := open(t, parse(t, testFloor), officefloor.Options{
		Registry: registry(t),
		FloorHandlers: []officefloor.FloorHandler{{
			Kind: "error",
			Handle: func(_ context.Context, office, processID string, err error) error {
				seen.Store(processID, office)
				return nil
			},
		}},
	})

	out := invoke(t, f, "TEST", "A", "x")
	require.NoError(t, out.Err)
	office, ok := seen.Load(out.ProcessID)
	require.True(t, ok)
	assert.Equal(t, "TEST", office)
}

func TestOpenRejectsUnknownFloorHandlerKind(t *testing.T) {
	t.Parallel()
	_, err := officefloor.Open(context.Background(), parse(t, testFloor), officefloor.Options{
		Registry:      registry(t),
		FloorHandlers: []officefloor.FloorHandler{{Kind: "mystery", Handle: func(context.Context, string, string, error) error { return nil }}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestOpenReportsCompileIssues(t *testing.T) {
	t.Parallel()
	cfg := parse(t, `
teams:
  - name: fast
    type: worker-pool
offices:
  - name: BAD
    functions:
      - name: a
        type: missing
        team: nowhere
`)
	_, err := officefloor.Open(context.Background(), cfg, officefloor.Options{Registry: registry(t)})
	var ierr *issues.Error
	require.ErrorAs(t, err, &ierr)
	assert.Len(t, ierr.Issues, 2)
}

// tickSource instigates its tick flow once started.
type tickSource struct {
	managedobject.SourceOf
	started chan managedobject.ExecuteContext
	stopped atomic.Bool
}

func (s *tickSource) Init(managedobject.InitContext) (*managedobject.MetaData, error) {
	return &managedobject.MetaData{Flows: []string{"tick"}}, nil
}

func (s *tickSource) Start(ctx managedobject.ExecuteContext) error {
	s.started <- ctx
	return nil
}

func (s *tickSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

type jobRecorder struct {
	execute.NopObserver
	mu   sync.Mutex
	jobs []string
}

func (r *jobRecorder) JobExecuted(_, function, team string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, function+"@"+team)
}

func TestStartedSourceInvokesFlows(t *testing.T) {
	t.Parallel()
	src := &tickSource{started: make(chan managedobject.ExecuteContext, 1)}
	reg := registry(t)
	require.NoError(t, reg.RegisterManagedObject("ticker", func() managedobject.Source { return src }))
	cfg := parse(t, `
teams:
  - name: fast
    type: worker-pool
  - name: slow
    type: one-thread
offices:
  - name: CLOCK
    managed_objects:
      - name: clock
        type: ticker
        team: slow
        flows:
          tick: onTick
    functions:
      - name: onTick
        type: pass
        team: fast
`)
	rec := &jobRecorder{}
	f := open(t, cfg, officefloor.Options{Registry: reg, Observers: []execute.Observer{rec, nil}})

	var ectx managedobject.ExecuteContext
	select {
	case ectx = <-src.started:
	default:
		t.Fatal("source not started by Open")
	}

	results := make(chan any, 1)
	require.NoError(t, ectx.InvokeFlow("tick", 7, func(result any, err error) {
		assert.NoError(t, err)
		results <- result
	}))
	select {
	case r := <-results:
		assert.Equal(t, 7, r)
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not complete")
	}
	rec.mu.Lock()
	assert.Equal(t, []string{"onTick@slow"}, rec.jobs)
	rec.mu.Unlock()

	err := ectx.InvokeFlow("tock", nil, nil)
	assert.ErrorIs(t, err, escalation.ErrIllegalArgument)

	require.NoError(t, f.Close(context.Background()))
	assert.True(t, src.stopped.Load())
	assert.Error(t, ectx.Context().Err())
	assert.ErrorIs(t, ectx.InvokeFlow("tick", nil, nil), officefloor.ErrClosed)
}

func TestOfficesSorted(t *testing.T) {
	t.Parallel()
	cfg := parse(t, testFloor)
	cfg.Offices = append(cfg.Offices, config.OfficeConfig{
		Name:      "ALPHA",
		Functions: []config.FunctionConfig{{Name: "echo", Type: "pass", Team: "fast"}},
	})
	f := open(t, cfg, officefloor.Options{Registry: registry(t)})

	offices := f.Offices()
	require.Len(t, offices, 2)
	assert.Equal(t, "ALPHA", offices[0].Name)
	assert.Equal(t, "TEST", offices[1].Name)
	assert.Len(t, f.Teams(), 2)

	out := invoke(t, f, "ALPHA", "echo", "hi")
	assert.Equal(t, "hi", out.Result)
}
