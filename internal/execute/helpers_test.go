package execute_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/construct"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/function"
	"github.com/officefloor/officefloor/internal/governance"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/source"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// testOffice assembles one office from code.
type testOffice struct {
	t   *testing.T
	reg *source.Registry
	cfg config.OfficeConfig
}

func newTestOffice(t *testing.T) *testOffice {
	t.Helper()
	return &testOffice{t: t, reg: source.NewRegistry(), cfg: config.OfficeConfig{Name: "TEST"}}
}

type fnOption func(*config.FunctionConfig)

func next(name string) fnOption {
	return func(fc *config.FunctionConfig) { fc.Next = name }
}

func objects(names ...string) fnOption {
	return func(fc *config.FunctionConfig) { fc.Objects = names }
}

func governed(names ...string) fnOption {
	return func(fc *config.FunctionConfig) { fc.Governances = names }
}

func flow(key, target, strategy string) fnOption {
	return func(fc *config.FunctionConfig) {
		fc.Flows = append(fc.Flows, config.FlowConfig{Key: key, Function: target, Strategy: strategy})
	}
}

func handles(kind, handler string) fnOption {
	return func(fc *config.FunctionConfig) {
		fc.Escalations = append(fc.Escalations, config.EscalationConfig{Kind: kind, Function: handler})
	}
}

func (o *testOffice) function(name, team string, impl func(ctx function.Context) (any, error), opts ...fnOption) {
	o.t.Helper()
	typ := "test:" + name
	require.NoError(o.t, o.reg.RegisterFunction(typ, function.Of(function.Func(impl))))
	fc := config.FunctionConfig{Name: name, Type: typ, Team: team}
	for _, opt := range opts {
		opt(&fc)
	}
	o.cfg.Functions = append(o.cfg.Functions, fc)
}

func (o *testOffice) managedObject(mc config.ManagedObjectConfig, src managedobject.Source) {
	o.t.Helper()
	require.NoError(o.t, o.reg.RegisterManagedObject(mc.Type, func() managedobject.Source { return src }))
	o.cfg.ManagedObjects = append(o.cfg.ManagedObjects, mc)
}

func (o *testOffice) governance(name string, src governance.Source) {
	o.t.Helper()
	typ := "gov:" + name
	require.NoError(o.t, o.reg.RegisterGovernance(typ, func() governance.Source { return src }))
	o.cfg.Governances = append(o.cfg.Governances, config.GovernanceConfig{Name: name, Type: typ})
}

func (o *testOffice) escalation(kind, handler string) {
	o.cfg.Escalations = append(o.cfg.Escalations, config.EscalationConfig{Kind: kind, Function: handler})
}

func (o *testOffice) engine(opts execute.Options) *execute.Engine {
	o.t.Helper()
	floor, err := construct.Compile(&config.Floor{
		Service: config.ServiceConfig{Name: "test"},
		Teams: []config.TeamConfig{
			{Name: "inline", Type: "passive"},
			{Name: "fast", Type: "worker-pool", Properties: map[string]string{"size": "4"}},
			{Name: "slow", Type: "one-thread"},
		},
		Offices: []config.OfficeConfig{o.cfg},
	}, o.reg)
	require.NoError(o.t, err)
	o.t.Cleanup(func() {
		for _, tm := range floor.Teams {
			_ = tm.Team.Stop(context.Background())
		}
	})
	return execute.New(floor.Offices[0], opts)
}

func invokeAndWait(t *testing.T, e *execute.Engine, function string, param any) execute.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := e.InvokeAndWait(ctx, function, param)
	require.NoError(t, err)
	return out
}

// recorder observes engine activity.
type recorder struct {
	execute.NopObserver

	mu          sync.Mutex
	jobs        []string
	escalations []string
	governance  []string
}

func (r *recorder) JobExecuted(_, function, team string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, function+"@"+team)
}

func (r *recorder) EscalationHandled(_, function, kind, handler, level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, function+":"+kind+"->"+handler+"@"+level)
}

func (r *recorder) GovernanceFinalized(_, gov string, state governance.State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.governance = append(r.governance, gov+":"+state.String())
}

func (r *recorder) snapshot() (jobs, escalations, gov []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...),
		append([]string(nil), r.escalations...),
		append([]string(nil), r.governance...)
}

// govSource hands out governances built by create.
type govSource struct {
	extension string
	create    func() governance.Governance
}

func (s *govSource) Init(governance.InitContext) (*governance.MetaData, error) {
	return &governance.MetaData{ExtensionType: s.extension}, nil
}

func (s *govSource) Create(context.Context) (governance.Governance, error) {
	return s.create(), nil
}

func value(v any) func(function.Context) (any, error) {
	return func(function.Context) (any, error) { return v, nil }
}

func parameter(ctx function.Context) (any, error) { return ctx.Parameter(), nil }
