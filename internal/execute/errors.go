package execute

import (
	"fmt"

	"github.com/officefloor/officefloor/internal/escalation"
)

// ManagedObjectError reports a managed object that could not be sourced,
// loaded or readied.
type ManagedObjectError struct {
	Name string
	Err  error
}

func (e *ManagedObjectError) Error() string {
	return fmt.Sprintf("managed object %s: %v", e.Name, e.Err)
}

func (e *ManagedObjectError) Unwrap() error { return e.Err }

// EscalationKind classifies the error as a managed object failure.
func (e *ManagedObjectError) EscalationKind() string { return escalation.KindManagedObject }
