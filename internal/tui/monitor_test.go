package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/events"
)

func mustEvent(t *testing.T, id int64, eventType string, payload any) events.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Event{ID: id, Type: eventType, At: time.Now(), Data: data}
}

func TestReadStream(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 1",
		"event: process.started",
		`data: {"office":"SHOP","function":"order","process_id":"p1"}`,
		"",
		"id: 2",
		"event: process.completed",
		`data: {"office":"SHOP","process_id":"p1","duration_ms":5}`,
		"",
		"id: 3",
		"event: partial",
		"data: tail",
	}, "\n")

	var got []events.Event
	require.NoError(t, ReadStream(strings.NewReader(stream), func(ev events.Event) {
		got = append(got, ev)
	}))

	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, events.TypeProcessStarted, got[0].Type)
	assert.JSONEq(t, `{"office":"SHOP","function":"order","process_id":"p1"}`, string(got[0].Data))
	assert.Equal(t, events.TypeProcessCompleted, got[1].Type)
	assert.Equal(t, "tail", string(got[2].Data))
	assert.False(t, got[2].At.IsZero())
}

func TestReadStreamJoinsDataLines(t *testing.T) {
	t.Parallel()

	var got []events.Event
	require.NoError(t, ReadStream(strings.NewReader("data: a\ndata: b\n\n"), func(ev events.Event) {
		got = append(got, ev)
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "a\nb", string(got[0].Data))
}

func TestHandleEventTracksProcesses(t *testing.T) {
	t.Parallel()

	m := NewMonitor(context.Background(), "http://localhost", "token")
	m.handleEvent(mustEvent(t, 1, events.TypeProcessStarted, events.ProcessStarted{Office: "SHOP", Function: "order", ProcessID: "p1"}))
	m.handleEvent(mustEvent(t, 2, events.TypeProcessStarted, events.ProcessStarted{Office: "SHOP", Function: "doomed", ProcessID: "p2"}))
	m.handleEvent(mustEvent(t, 3, events.TypeProcessCompleted, events.ProcessCompleted{Office: "SHOP", ProcessID: "p1", DurationMS: 12}))
	m.handleEvent(mustEvent(t, 4, events.TypeEscalationHandled, events.EscalationHandled{Office: "SHOP", Kind: "illegal-state", Level: "office"}))
	m.handleEvent(mustEvent(t, 5, events.TypeProcessFailed, events.ProcessCompleted{Office: "SHOP", ProcessID: "p2", Error: "boom"}))

	require.Len(t, m.order, 2)
	assert.Equal(t, "p2", m.order[0].ID)
	assert.Equal(t, StatusFailed, m.processes["p2"].Status)
	assert.Equal(t, "boom", m.processes["p2"].Error)
	assert.Equal(t, StatusCompleted, m.processes["p1"].Status)
	assert.Equal(t, 12*time.Millisecond, m.processes["p1"].Duration)
	assert.Equal(t, 1, m.failed)
	assert.Equal(t, 1, m.escalations)
	assert.Equal(t, int64(5), m.lastID)
	assert.Len(t, m.eventLog, 5)

	m.updateTable()
	rows := m.processTable.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "doomed", rows[0][2])
	assert.Equal(t, "12ms", rows[1][4])
}

func TestHandleEventCompletionWithoutStart(t *testing.T) {
	t.Parallel()

	m := NewMonitor(context.Background(), "http://localhost", "token")
	m.handleEvent(mustEvent(t, 7, events.TypeProcessCompleted, events.ProcessCompleted{Office: "SHOP", ProcessID: "late"}))

	require.Contains(t, m.processes, "late")
	assert.Equal(t, "SHOP", m.processes["late"].Office)
	assert.Equal(t, StatusCompleted, m.processes["late"].Status)
}

func TestHandleEventIgnoresMalformedPayload(t *testing.T) {
	t.Parallel()

	m := NewMonitor(context.Background(), "http://localhost", "token")
	m.handleEvent(events.Event{ID: 1, Type: events.TypeProcessStarted, Data: []byte("not json")})
	assert.Empty(t, m.processes)
	assert.Len(t, m.eventLog, 1)
}

func TestProcessWindowIsBounded(t *testing.T) {
	t.Parallel()

	m := NewMonitor(context.Background(), "http://localhost", "token")
	for i := 0; i < maxProcesses+5; i++ {
		m.handleEvent(mustEvent(t, int64(i+1), events.TypeProcessStarted, events.ProcessStarted{ProcessID: fmt.Sprintf("p%d", i)}))
	}
	assert.Len(t, m.order, maxProcesses)
	assert.Len(t, m.processes, maxProcesses)
	assert.NotContains(t, m.processes, "p0")
	assert.Len(t, m.eventLog, maxEventLog)
}

func TestUpdateAndView(t *testing.T) {
	t.Parallel()

	m := NewMonitor(context.Background(), "http://localhost", "token")
	assert.Equal(t, "Initializing...", m.View())

	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model, _ = model.Update(eventMsg(mustEvent(t, 1, events.TypeProcessStarted, events.ProcessStarted{Office: "SHOP", Function: "order", ProcessID: "abcdef123456"})))
	model, _ = model.Update(healthMsg{Status: "ok", UptimeSeconds: 61, Offices: 1, ActiveProcesses: 1})

	view := model.View()
	assert.Contains(t, view, "Processes")
	assert.Contains(t, view, "abcdef12")
	assert.Contains(t, view, "Offices: 1")
	assert.Contains(t, view, "process.started")

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "4", r.Header.Get("Last-Event-ID"))
		assert.Equal(t, "SHOP", r.URL.Query().Get("office"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 5\nevent: process.started\ndata: {\"process_id\":\"p5\"}\n\n")
	}))
	defer srv.Close()

	ch := make(chan events.Event, 1)
	require.NoError(t, Stream(context.Background(), srv.Client(), srv.URL, "secret", events.Filter{Offices: []string{"SHOP"}}, 4, ch))
	ev := <-ch
	assert.Equal(t, int64(5), ev.ID)

	err := Stream(context.Background(), srv.Client(), srv.URL, "wrong", events.Filter{Offices: []string{"SHOP"}}, 4, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestEventsURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://floor:8080/events", eventsURL("http://floor:8080/", events.Filter{}))
	assert.Equal(t, "http://floor:8080/events?office=SHOP%2CBANK&type=process.failed",
		eventsURL("http://floor:8080", events.Filter{Offices: []string{"SHOP", "BANK"}, Types: []string{"process.failed"}}))
}
