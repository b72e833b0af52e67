// Package journal records process invocations and escalations in sqlite.
package journal

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one journalled process.
type Entry struct {
	ID          string
	Office      string
	Function    string
	Status      Status
	Parameter   json.RawMessage
	Result      json.RawMessage
	LastError   *string
	SubmittedBy string
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    time.Duration
}

// BeginRequest opens an entry for a started process.
type BeginRequest struct {
	ID          string
	Office      string
	Function    string
	Parameter   any
	SubmittedBy string
}

// Escalation is one handled escalation.
type Escalation struct {
	Office     string
	Function   string
	Kind       string
	Handler    string
	Level      string
	RecordedAt time.Time
}

var ErrProcessNotFound = errors.New("process not found")
