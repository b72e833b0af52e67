package timer

import (
	"context"
	"errors"
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

type initContext map[string]string

func (c initContext) Office() string { return "TEST" }
func (c initContext) Name() string   { return "clock" }
func (c initContext) Property(name, def string) string {
	if v, ok := c[name]; ok {
		return v
	}
	return def
}
func (c initContext) Properties() map[string]string { return c }

// flowRecorder holds back callbacks until release is called.
type flowRecorder struct {
	ctx context.Context

	mu        sync.Mutex
	ticks     []Tick
	callbacks []func(any, error)
	fail      error
}

func (r *flowRecorder) Context() context.Context { return r.ctx }

func (r *flowRecorder) InvokeFlow(key string, parameter any, callback func(any, error)) error {
	if key != FlowTick {
		return errors.New("unexpected flow " + key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.ticks = append(r.ticks, parameter.(Tick))
	r.callbacks = append(r.callbacks, callback)
	return nil
}

func (r *flowRecorder) release() {
	r.mu.Lock()
	cbs := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(nil, nil)
	}
}

func (r *flowRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func newSource(t *testing.T, props initContext) *Source {
	t.Helper()
	src := NewSource().(*Source)
	md, err := src.Init(props)
	require.NoError(t, err)
	assert.Equal(t, []string{FlowTick}, md.Flows)
	t.Cleanup(func() { _ = src.Stop() })
	return src
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		spec string
		next time.Time
	}{
		{spec: "5m", next: from.Add(5 * time.Minute)},
		{spec: "hourly", next: from.Add(time.Hour)},
		{spec: "daily", next: from.Add(24 * time.Hour)},
		{spec: "*/10 * * * *", next: from.Add(10 * time.Minute)},
		{spec: "30 * * * * *", next: from.Add(30 * time.Second)},
		{spec: "@every 2h", next: from.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.next, s.Next(from), tt.spec)
	}

	for _, bad := range []string{"", "0s", "-1m", "every day", "61 * * * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestInitValidatesProperties(t *testing.T) {
	t.Parallel()
	for _, props := range []initContext{
		{},
		{"schedule": "1m", "jitter": "soon"},
		{"schedule": "1m", "jitter": "-1s"},
		{"schedule": "1m", "overlap": "maybe"},
	} {
		_, err := NewSource().Init(props)
		assert.Error(t, err, props)
	}
}

func TestFireSkipsWhileRunActive(t *testing.T) {
	t.Parallel()
	src := newSource(t, initContext{"schedule": "1m", "parameter": "nightly"})
	rec := &flowRecorder{ctx: context.Background()}

	src.fire(rec)
	src.fire(rec)
	assert.Equal(t, 1, rec.count())

	rec.release()
	src.fire(rec)
	require.Equal(t, 2, rec.count())
	assert.Equal(t, int64(1), rec.ticks[0].Run)
	assert.Equal(t, int64(2), rec.ticks[1].Run)
	assert.Equal(t, "nightly", rec.ticks[1].Parameter)

	mo, err := src.ManagedObject(context.Background())
	require.NoError(t, err)
	obj, err := mo.Object()
	require.NoError(t, err)
	tm := obj.(*Timer)
	assert.Equal(t, int64(2), tm.Runs())
	assert.False(t, tm.Last().IsZero())
	assert.True(t, tm.Next().After(time.Now()))
}

func TestFireWithOverlap(t *testing.T) {
	t.Parallel()
	src := newSource(t, initContext{"schedule": "1m", "overlap": "true"})
	rec := &flowRecorder{ctx: context.Background()}

	src.fire(rec)
	src.fire(rec)
	assert.Equal(t, 2, rec.count())
}

func TestFireFailureClearsInflight(t *testing.T) {
	t.Parallel()
	src := newSource(t, initContext{"schedule": "1m"})
	rec := &flowRecorder{ctx: context.Background(), fail: errors.New("closed")}

	src.fire(rec)
	rec.fail = nil
	src.fire(rec)
	assert.Equal(t, 1, rec.count())
}

func TestFireJitterAbandonedOnCancel(t *testing.T) {
	t.Parallel()
	src := newSource(t, initContext{"schedule": "1m", "jitter": "1h"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &flowRecorder{ctx: ctx}

	src.fire(rec)
	assert.Equal(t, 0, rec.count())
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	src := newSource(t, initContext{"schedule": "1s"})
	rec := &flowRecorder{ctx: context.Background()}

	require.NoError(t, src.Start(rec))
	assert.Error(t, src.Start(rec))
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
	n := rec.count()
	rec.release()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, rec.count())
}
