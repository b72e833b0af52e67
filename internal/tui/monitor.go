// Package tui implements the terminal process monitor for a running office
// floor, fed by the API event stream.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/officefloor/officefloor/internal/api"
	"github.com/officefloor/officefloor/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	maxProcesses = 200
	maxEventLog  = 50
)

// Process states shown by the monitor.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// --- Types ---

// ProcessNode is one process seen on the event stream.
type ProcessNode struct {
	ID        string
	Office    string
	Function  string
	Status    string
	Error     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Model is the bubbletea model of the monitor.
type Model struct {
	ctx    context.Context
	client *http.Client
	apiURL string
	token  string
	filter events.Filter

	width  int
	height int

	processes map[string]*ProcessNode
	order     []*ProcessNode
	eventLog  []events.Event
	feed      chan events.Event
	lastID    int64
	connected bool

	failed      int
	escalations int

	health api.HealthzResponse
	err    error

	processTable table.Model
	viewport     viewport.Model
}

type eventMsg events.Event
type healthMsg api.HealthzResponse
type errMsg struct{ err error }
type disconnectedMsg struct{ err error }
type reconnectMsg struct{}

// --- Init ---

// WithFilter limits the monitor to events matching f.
func (m *Model) WithFilter(f events.Filter) *Model {
	m.filter = f
	return m
}

// NewMonitor creates a monitor for the API at apiURL.
func NewMonitor(ctx context.Context, apiURL, token string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Office", Width: 16},
			{Title: "Function", Width: 20},
			{Title: "Process", Width: 10},
			{Title: "Duration", Width: 10},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		ctx:          ctx,
		client:       &http.Client{},
		apiURL:       strings.TrimRight(apiURL, "/"),
		token:        token,
		processes:    make(map[string]*ProcessNode),
		feed:         make(chan events.Event, 100),
		processTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveNextEvent(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.processTable.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height / 3

	case eventMsg:
		m.connected = true
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.err = nil
		return m, m.scheduleHealth()

	case disconnectedMsg:
		m.connected = false
		m.err = msg.err
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case errMsg:
		m.err = msg.err
		return m, m.scheduleHealth()
	}

	m.processTable, cmd = m.processTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case events.TypeProcessStarted:
		var p events.ProcessStarted
		if json.Unmarshal(e.Data, &p) != nil || p.ProcessID == "" {
			return
		}
		node := m.node(p.ProcessID)
		node.Office = p.Office
		node.Function = p.Function
		if node.Status == "" {
			node.Status = StatusRunning
		}
		node.StartTime = e.At

	case events.TypeProcessCompleted, events.TypeProcessFailed:
		var p events.ProcessCompleted
		if json.Unmarshal(e.Data, &p) != nil || p.ProcessID == "" {
			return
		}
		node := m.node(p.ProcessID)
		if node.Office == "" {
			node.Office = p.Office
		}
		node.EndTime = e.At
		node.Duration = time.Duration(p.DurationMS) * time.Millisecond
		node.Status = StatusCompleted
		if e.Type == events.TypeProcessFailed {
			node.Status = StatusFailed
			node.Error = p.Error
			m.failed++
		}

	case events.TypeEscalationHandled:
		m.escalations++
	}
}

// node returns the process with id, tracking it newest first.
func (m *Model) node(id string) *ProcessNode {
	if n, ok := m.processes[id]; ok {
		return n
	}
	n := &ProcessNode{ID: id}
	m.processes[id] = n
	m.order = append([]*ProcessNode{n}, m.order...)
	if len(m.order) > maxProcesses {
		for _, old := range m.order[maxProcesses:] {
			delete(m.processes, old.ID)
		}
		m.order = m.order[:maxProcesses]
	}
	return n
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, n := range m.order {
		rows = append(rows, nodeToRow(n))
	}
	m.processTable.SetRows(rows)
}

func nodeToRow(node *ProcessNode) table.Row {
	statusSym := statusDim.Render("○")
	switch node.Status {
	case StatusRunning:
		statusSym = statusRunning.Render("◉")
	case StatusCompleted:
		statusSym = statusOK.Render("●")
	case StatusFailed:
		statusSym = statusFailed.Render("∅")
	}

	duration := "-"
	switch {
	case node.Duration > 0:
		duration = node.Duration.String()
	case !node.StartTime.IsZero() && node.EndTime.IsZero():
		duration = time.Since(node.StartTime).Round(time.Millisecond).String()
	}

	return table.Row{
		statusSym,
		node.Office,
		node.Function,
		shortID(node.ID),
		duration,
		node.Error,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	processes := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Processes"),
			m.processTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Processes")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			processes,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	switch {
	case m.err != nil && !m.connected:
		status = statusFailed.Render("OFFLINE")
	case m.health.Status != "ok" && m.health.Status != "":
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Offices: %d", m.health.Offices),
		fmt.Sprintf("Active: %d", m.health.ActiveProcesses),
		fmt.Sprintf("Failed: %d  Escalations: %d", m.failed, m.escalations),
	}

	width := (m.width - 4) / len(items)
	cells := make([]string, len(items))
	for i, item := range items {
		cells[i] = lipgloss.NewStyle().Width(width).Render(item)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-22s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m Model) subscribe() tea.Cmd {
	lastID := m.lastID
	return func() tea.Msg {
		err := Stream(m.ctx, m.client, m.apiURL, m.token, m.filter, lastID, m.feed)
		return disconnectedMsg{err: err}
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.feed:
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) scheduleHealth() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return m.fetchHealth()
	})
}

func (m Model) fetchHealth() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL+"/healthz", nil)
	if err != nil {
		return errMsg{err}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{err}
	}
	return healthMsg(h)
}
