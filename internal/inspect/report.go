// Package inspect renders journalled processes for the terminal.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/officefloor/officefloor/internal/journal"
)

// Source reads journalled processes. *journal.Journal satisfies it.
type Source interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	EscalationsDuring(ctx context.Context, office string, from, to time.Time) ([]journal.Escalation, error)
}

// Report is the structured JSON representation of a process report.
type Report struct {
	ProcessID   string          `json:"process_id"`
	Office      string          `json:"office"`
	Function    string          `json:"function"`
	Status      string          `json:"status"`
	SubmittedBy string          `json:"submitted_by"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	Parameter   json.RawMessage `json:"parameter,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	// Escalations were handled in the same office while the process ran.
	// Other processes of the office may have raised some of them.
	Escalations []Step `json:"escalations"`
}

// Step is one escalation seen during the process.
type Step struct {
	At       time.Time `json:"at"`
	Function string    `json:"function,omitempty"`
	Kind     string    `json:"kind"`
	Handler  string    `json:"handler,omitempty"`
	Level    string    `json:"level"`
}

// BuildReport renders a terminal-friendly report for a process.
func BuildReport(ctx context.Context, src Source, processID string) (string, error) {
	report, err := gatherReportData(ctx, src, processID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Process Report\n")
	fmt.Fprintf(&out, "Process ID   : %s\n", report.ProcessID)
	fmt.Fprintf(&out, "Input        : %s.%s\n", report.Office, report.Function)
	fmt.Fprintf(&out, "Status       : %s\n", report.Status)
	fmt.Fprintf(&out, "Submitted by : %s\n", renderUnset(report.SubmittedBy, "<unknown>"))
	fmt.Fprintf(&out, "Started      : %s\n", report.StartedAt.Format(time.RFC3339))
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed    : %s (%dms)\n", report.CompletedAt.Format(time.RFC3339), report.DurationMs)
	} else {
		fmt.Fprintf(&out, "Completed    : <running>\n")
	}
	if report.Error != "" {
		fmt.Fprintf(&out, "Error        : %s\n", report.Error)
	}
	fmt.Fprintf(&out, "\n")

	writeBlock(&out, "parameter", report.Parameter)
	writeBlock(&out, "result", report.Result)

	if len(report.Escalations) == 0 {
		fmt.Fprintf(&out, "escalations  : <none>\n")
	} else {
		fmt.Fprintf(&out, "escalations  :\n")
		for i, step := range report.Escalations {
			fmt.Fprintf(&out, "  [%d] %s %s at %s level", i+1, step.At.Format("15:04:05.000"), step.Kind, step.Level)
			if step.Function != "" {
				fmt.Fprintf(&out, " from %s", step.Function)
			}
			fmt.Fprintf(&out, " -> %s\n", renderUnset(step.Handler, "<floor>"))
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable process report.
func BuildJSONReport(ctx context.Context, src Source, processID string) (string, error) {
	report, err := gatherReportData(ctx, src, processID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, processID string) (*Report, error) {
	if strings.TrimSpace(processID) == "" {
		return nil, fmt.Errorf("process_id is required")
	}

	entry, err := src.Get(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("process %q: %w", processID, err)
	}

	report := &Report{
		ProcessID:   entry.ID,
		Office:      entry.Office,
		Function:    entry.Function,
		Status:      string(entry.Status),
		SubmittedBy: entry.SubmittedBy,
		StartedAt:   entry.StartedAt,
		CompletedAt: entry.CompletedAt,
		DurationMs:  entry.Duration.Milliseconds(),
		Parameter:   entry.Parameter,
		Result:      entry.Result,
		Escalations: make([]Step, 0),
	}
	if entry.LastError != nil {
		report.Error = *entry.LastError
	}

	var until time.Time
	if entry.CompletedAt != nil {
		until = *entry.CompletedAt
	}
	escalations, err := src.EscalationsDuring(ctx, entry.Office, entry.StartedAt, until)
	if err != nil {
		return nil, fmt.Errorf("load escalations: %w", err)
	}
	for _, e := range escalations {
		report.Escalations = append(report.Escalations, Step{
			At:       e.RecordedAt,
			Function: e.Function,
			Kind:     e.Kind,
			Handler:  e.Handler,
			Level:    e.Level,
		})
	}

	return report, nil
}

func writeBlock(out *strings.Builder, label string, raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Fprintf(out, "%-12s : <none>\n", label)
		return
	}
	fmt.Fprintf(out, "%-12s :\n", label)
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(raw)), "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
