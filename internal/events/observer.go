package events

import (
	"time"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/governance"
)

// Event types.
const (
	TypeProcessStarted        = "process.started"
	TypeProcessCompleted      = "process.completed"
	TypeProcessFailed         = "process.failed"
	TypeEscalationHandled     = "escalation.handled"
	TypeGovernanceEnforced    = "governance.enforced"
	TypeGovernanceDisregarded = "governance.disregarded"
)

// ProcessStarted is the payload of TypeProcessStarted.
type ProcessStarted struct {
	Office    string `json:"office"`
	Function  string `json:"function"`
	ProcessID string `json:"process_id"`
}

// ProcessCompleted is the payload of TypeProcessCompleted and TypeProcessFailed.
type ProcessCompleted struct {
	Office     string `json:"office"`
	ProcessID  string `json:"process_id"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// EscalationHandled is the payload of TypeEscalationHandled.
type EscalationHandled struct {
	Office   string `json:"office"`
	Function string `json:"function,omitempty"`
	Kind     string `json:"kind"`
	Handler  string `json:"handler,omitempty"`
	Level    string `json:"level"`
}

// GovernanceFinalized is the payload of the governance events.
type GovernanceFinalized struct {
	Office     string `json:"office"`
	Governance string `json:"governance"`
	Error      string `json:"error,omitempty"`
}

// Observer publishes engine activity to a hub. Jobs are not published.
type Observer struct {
	execute.NopObserver
	hub *Hub
}

var _ execute.Observer = (*Observer)(nil)

// NewObserver returns an observer publishing to hub.
func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

func (o *Observer) ProcessStarted(office, function, processID string) {
	o.hub.Publish(TypeProcessStarted, office, ProcessStarted{Office: office, Function: function, ProcessID: processID})
}

func (o *Observer) ProcessCompleted(office string, outcome execute.Outcome, elapsed time.Duration) {
	payload := ProcessCompleted{Office: office, ProcessID: outcome.ProcessID, DurationMS: elapsed.Milliseconds()}
	if outcome.Err != nil {
		payload.Error = outcome.Err.Error()
		o.hub.Publish(TypeProcessFailed, office, payload)
		return
	}
	o.hub.Publish(TypeProcessCompleted, office, payload)
}

func (o *Observer) EscalationHandled(office, function, kind, handler, level string) {
	o.hub.Publish(TypeEscalationHandled, office, EscalationHandled{
		Office:   office,
		Function: function,
		Kind:     kind,
		Handler:  handler,
		Level:    level,
	})
}

func (o *Observer) GovernanceFinalized(office, gov string, state governance.State, err error) {
	payload := GovernanceFinalized{Office: office, Governance: gov}
	if err != nil {
		payload.Error = err.Error()
	}
	eventType := TypeGovernanceEnforced
	if state == governance.StateDisregarded {
		eventType = TypeGovernanceDisregarded
	}
	o.hub.Publish(eventType, office, payload)
}
