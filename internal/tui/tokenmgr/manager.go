// Package tokenmgr is the interactive scope picker used when minting API
// tokens.
package tokenmgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/officefloor/officefloor/internal/auth"
	"github.com/officefloor/officefloor/internal/config"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

const baseTitle = "Select Scopes (Space to toggle, Enter to confirm)"

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Model picks scopes for a new token.
type Model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case " ":
			m.list.SetItems(toggle(m.list.Items(), m.list.Index()))
			m.list.Title = title(m.list.Items())
			return m, nil
		case "enter":
			chosen := selected(m.list.Items())
			if len(chosen) == 0 {
				return m, m.list.NewStatusMessage("select at least one scope")
			}
			m.done, m.scopes = true, chosen
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	switch {
	case m.quitting:
		return quitTextStyle.Render("Cancelled.")
	case m.done:
		return quitTextStyle.Render("Selected scopes: " + strings.Join(m.scopes, ", "))
	}
	return "\n" + m.list.View()
}

// Cancelled reports whether the picker was quit without confirming.
func (m Model) Cancelled() bool { return m.quitting }

// Scopes returns the confirmed scopes.
func (m Model) Scopes() []string { return m.scopes }

// toggle flips the item at idx. The wildcard excludes every other scope, and
// an office write scope replaces the matching read scope it implies.
func toggle(items []list.Item, idx int) []list.Item {
	out := slices.Clone(items)
	target, ok := out[idx].(item)
	if !ok {
		return out
	}
	target.selected = !target.selected
	out[idx] = target
	if !target.selected {
		return out
	}

	implied := ""
	if strings.HasSuffix(target.scope, ":rw") {
		implied = strings.TrimSuffix(target.scope, ":rw") + ":ro"
	}
	for i, li := range out {
		it, ok := li.(item)
		if !ok || i == idx || !it.selected {
			continue
		}
		if target.scope == auth.ScopeAll || it.scope == auth.ScopeAll || it.scope == implied {
			it.selected = false
			out[i] = it
		}
	}
	return out
}

func title(items []list.Item) string {
	n := len(selected(items))
	if n == 0 {
		return baseTitle
	}
	return fmt.Sprintf("%s [%d selected]", baseTitle, n)
}

func selected(items []list.Item) []string {
	var out []string
	for _, li := range items {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

// Items lists the scopes on offer: the core scopes followed by read and
// write scopes for every office.
func Items(offices []string) []list.Item {
	core := []struct {
		scope string
		desc  string
	}{
		{auth.ScopeAll, "Full administrative access (all scopes)"},
		{auth.ScopeOfficeRead, "Describe every office"},
		{auth.ScopeOfficeWrite, "Invoke inputs of every office"},
		{auth.ScopeProcesses, "Read the process journal"},
		{auth.ScopeEvents, "Access to the real-time event stream (SSE)"},
		{auth.ScopeMetrics, "Scrape prometheus metrics"},
	}

	var items []list.Item
	for _, s := range core {
		items = append(items, item{scope: s.scope, desc: s.desc})
	}
	for _, office := range offices {
		items = append(items,
			item{scope: fmt.Sprintf("office:%s:ro", office), desc: fmt.Sprintf("Describe office %s", office)},
			item{scope: fmt.Sprintf("office:%s:rw", office), desc: fmt.Sprintf("Invoke inputs of office %s", office)},
		)
	}
	return items
}

// New creates a picker offering scopes for the named offices.
func New(offices []string) *Model {
	l := list.New(Items(offices), list.NewDefaultDelegate(), 0, 0)
	l.Title = baseTitle
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &Model{list: l}
}

// GenerateToken returns a random 32 byte token, hex encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Snippet renders a token entry ready to paste under api.auth.tokens.
func Snippet(token string, scopes []string) (string, error) {
	out, err := yaml.Marshal([]config.APIToken{{Token: token, Scopes: scopes}})
	if err != nil {
		return "", fmt.Errorf("render token: %w", err)
	}
	return string(out), nil
}
