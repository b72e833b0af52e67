package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/governance"
)

func TestHubRingKeepsLatest(t *testing.T) {
	t.Parallel()
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", "SHOP", map[string]int{"n": i})
	}

	all := h.SnapshotSince(0, Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	since := h.SnapshotSince(4, Filter{})
	require.Len(t, since, 1)
	assert.JSONEq(t, `{"n":4}`, string(since[0].Data))
}

func TestHubSubscribeAndCancel(t *testing.T) {
	t.Parallel()
	h := NewHub(0)
	ch, cancel := h.Subscribe(Filter{})

	h.Publish("hello", "", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "hello", ev.Type)
		assert.Equal(t, "{}", string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestObserverPublishes(t *testing.T) {
	t.Parallel()
	h := NewHub(10)
	obs := NewObserver(h)

	obs.ProcessStarted("SHOP", "order", "p1")
	obs.ProcessCompleted("SHOP", execute.Outcome{ProcessID: "p1"}, 5*time.Millisecond)
	obs.ProcessCompleted("SHOP", execute.Outcome{ProcessID: "p2", Err: errors.New("boom")}, time.Millisecond)
	obs.EscalationHandled("SHOP", "order", "illegal-state", "recover", "function")
	obs.GovernanceFinalized("SHOP", "TX", governance.StateEnforced, nil)
	obs.GovernanceFinalized("SHOP", "TX", governance.StateDisregarded, nil)
	obs.JobExecuted("SHOP", "order", "workers", time.Millisecond, nil)

	got := h.SnapshotSince(0, Filter{})
	types := make([]string, 0, len(got))
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		TypeProcessStarted,
		TypeProcessCompleted,
		TypeProcessFailed,
		TypeEscalationHandled,
		TypeGovernanceEnforced,
		TypeGovernanceDisregarded,
	}, types)

	for _, ev := range got {
		assert.Equal(t, "SHOP", ev.Office)
	}

	var failed ProcessCompleted
	require.NoError(t, json.Unmarshal(got[2].Data, &failed))
	assert.Equal(t, "p2", failed.ProcessID)
	assert.Equal(t, "boom", failed.Error)
}

func TestHubFilters(t *testing.T) {
	t.Parallel()
	h := NewHub(10)
	ch, cancel := h.Subscribe(Filter{Offices: []string{"SHOP"}, Types: []string{TypeProcessFailed}})
	defer cancel()

	h.Publish(TypeProcessFailed, "DEPOT", nil)
	h.Publish(TypeProcessCompleted, "SHOP", nil)
	h.Publish(TypeProcessFailed, "SHOP", map[string]string{"error": "boom"})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(3), ev.ID)
		assert.Equal(t, "SHOP", ev.Office)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	got := h.SnapshotSince(0, Filter{Offices: []string{"DEPOT"}})
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Len(t, h.SnapshotSince(0, Filter{Types: []string{TypeProcessFailed}}), 2)
	assert.True(t, Filter{}.Match(Event{Type: "anything"}))
}
