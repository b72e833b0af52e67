package api

import (
	"encoding/json"
	"time"
)

// InvokeRequest is the JSON body for POST /offices/{office}/inputs/{function}
type InvokeRequest struct {
	Parameter json.RawMessage `json:"parameter,omitempty"`
}

// InvokeResponse is returned once a process starts, and again with the
// outcome when the caller waits for it.
type InvokeResponse struct {
	ProcessID  string `json:"process_id"`
	Status     string `json:"status"`
	Office     string `json:"office"`
	Function   string `json:"function"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	// TimeoutExceeded is set when the wait ended before the process did.
	TimeoutExceeded bool `json:"timeout_exceeded,omitempty"`
}

// OfficeResponse describes one office.
type OfficeResponse struct {
	Name           string             `json:"name"`
	Fingerprint    string             `json:"fingerprint,omitempty"`
	Functions      []FunctionResponse `json:"functions"`
	ManagedObjects []string           `json:"managed_objects,omitempty"`
	Governances    []string           `json:"governances,omitempty"`
}

// FunctionResponse describes one function of an office.
type FunctionResponse struct {
	Name  string   `json:"name"`
	Team  string   `json:"team"`
	Next  string   `json:"next,omitempty"`
	Flows []string `json:"flows,omitempty"`
}

// ProcessResponse is returned by GET /processes/{process_id}
type ProcessResponse struct {
	ProcessID   string          `json:"process_id"`
	Status      string          `json:"status"`
	Office      string          `json:"office"`
	Function    string          `json:"function"`
	Parameter   json.RawMessage `json:"parameter,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	SubmittedBy string          `json:"submitted_by"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// EscalationResponse is one journalled escalation.
type EscalationResponse struct {
	Office     string    `json:"office"`
	Function   string    `json:"function,omitempty"`
	Kind       string    `json:"kind"`
	Handler    string    `json:"handler,omitempty"`
	Level      string    `json:"level"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Offices         int    `json:"offices"`
	ActiveProcesses int    `json:"active_processes"`
}
