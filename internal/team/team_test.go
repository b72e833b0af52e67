package team

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type recordingJob struct {
	id     int
	run    func()
	mu     sync.Mutex
	failed error
	done   chan struct{}
}

func newJob(id int, run func()) *recordingJob {
	return &recordingJob{id: id, run: run, done: make(chan struct{})}
}

func (j *recordingJob) Run() {
	if j.run != nil {
		j.run()
	}
	close(j.done)
}

func (j *recordingJob) Fail(err error) {
	j.mu.Lock()
	j.failed = err
	j.mu.Unlock()
	select {
	case <-j.done:
	default:
		close(j.done)
	}
}

func (j *recordingJob) err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failed
}

func waitJob(t *testing.T, j *recordingJob) {
	t.Helper()
	select {
	case <-j.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %d did not finish", j.id)
	}
}

func TestOneWorkerIsFIFO(t *testing.T) {
	t.Parallel()
	p := NewWorkerPool("one", 1, PoolOptions{})
	defer p.Stop(context.Background())

	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})

	jobs := make([]*recordingJob, 5)
	for i := range jobs {
		id := i
		jobs[i] = newJob(id, func() {
			if id == 0 {
				<-gate
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		})
		require.NoError(t, p.Assign(jobs[i]))
	}
	close(gate)
	for _, j := range jobs {
		waitJob(t, j)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	t.Parallel()
	p := NewWorkerPool("pool", 2, PoolOptions{})
	defer p.Stop(context.Background())

	j := newJob(1, func() { panic("boom") })
	require.NoError(t, p.Assign(j))
	waitJob(t, j)

	var perr *PanicError
	require.ErrorAs(t, j.err(), &perr)
	assert.Equal(t, "pool", perr.Team)
	assert.Equal(t, "panic", perr.EscalationKind())

	// The worker survives the panic.
	next := newJob(2, nil)
	require.NoError(t, p.Assign(next))
	waitJob(t, next)
	assert.NoError(t, next.err())
}

func TestWorkerPoolStopDrains(t *testing.T) {
	t.Parallel()
	p := NewWorkerPool("pool", 2, PoolOptions{})

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Assign(newJob(i, func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, 10, ran)

	err := p.Assign(newJob(11, nil))
	assert.ErrorIs(t, err, ErrTeamStopped)
}

func TestWorkerPoolStopCancelsAfterDeadline(t *testing.T) {
	t.Parallel()
	p := NewWorkerPool("pool", 1, PoolOptions{})

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := newJob(0, func() {
		close(started)
		<-release
	})
	require.NoError(t, p.Assign(blocker))
	<-started
	queued := newJob(1, nil)
	require.NoError(t, p.Assign(queued))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	waitJob(t, queued)
	assert.ErrorIs(t, queued.err(), ErrTeamStopped)

	close(release)
	waitJob(t, blocker)
	assert.NoError(t, blocker.err())
}

func TestPassiveRunsInline(t *testing.T) {
	t.Parallel()
	p := NewPassive("inline", nil)

	ran := false
	j := newJob(1, func() { ran = true })
	require.NoError(t, p.Assign(j))
	assert.True(t, ran, "passive team runs on the assigning goroutine")

	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Assign(newJob(2, nil)), ErrTeamStopped)
}

type testContext struct {
	name  string
	props map[string]string
}

func (c testContext) Name() string { return c.name }
func (c testContext) Property(name, def string) string {
	if v, ok := c.props[name]; ok {
		return v
	}
	return def
}
func (c testContext) Logger() *slog.Logger { return log.WithComponent("team") }

func TestBuiltinSources(t *testing.T) {
	t.Parallel()
	sources := Builtin()

	tm, err := sources[TypeWorkerPool].CreateTeam(testContext{name: "fast", props: map[string]string{"size": "3", "rate": "100", "burst": "5"}})
	require.NoError(t, err)
	pool, ok := tm.(*WorkerPool)
	require.True(t, ok)
	assert.Equal(t, 3, pool.Size())
	require.NotNil(t, pool.limiter)
	require.NoError(t, pool.Stop(context.Background()))

	tm, err = sources[TypeOneThread].CreateTeam(testContext{name: "slow"})
	require.NoError(t, err)
	assert.Equal(t, 1, tm.(*WorkerPool).Size())
	require.NoError(t, tm.Stop(context.Background()))

	tm, err = sources[TypePassive].CreateTeam(testContext{name: "inline"})
	require.NoError(t, err)
	assert.IsType(t, &Passive{}, tm)

	_, err = sources[TypeWorkerPool].CreateTeam(testContext{name: "bad", props: map[string]string{"size": "x"}})
	assert.Error(t, err)
	_, err = sources[TypeWorkerPool].CreateTeam(testContext{name: "bad", props: map[string]string{"rate": "-1"}})
	assert.Error(t, err)
}

func TestRateLimitedPoolRuns(t *testing.T) {
	t.Parallel()
	p := NewWorkerPool("throttled", 1, PoolOptions{Rate: 1000, Burst: 1})
	defer p.Stop(context.Background())

	jobs := make([]*recordingJob, 3)
	for i := range jobs {
		jobs[i] = newJob(i, nil)
		require.NoError(t, p.Assign(jobs[i]))
	}
	for _, j := range jobs {
		waitJob(t, j)
		assert.NoError(t, j.err())
	}
}
