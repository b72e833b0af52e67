// Package governance defines the governance contract and the per-process
// container that drives one governance through its lifecycle.
package governance

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -destination=mocks/mock_governance.go -package=mocks github.com/officefloor/officefloor/internal/governance Governance

// Governance manages the extensions of the managed objects it governs, for
// example committing or rolling back transactions.
type Governance interface {
	// Govern registers the extension of one managed object.
	Govern(ctx context.Context, extension any) error
	// Enforce applies the governance to every registered extension.
	Enforce(ctx context.Context) error
	// Disregard releases every registered extension without applying it.
	Disregard(ctx context.Context) error
}

// Source creates Governance instances, one per activation within a process.
type Source interface {
	Init(ctx InitContext) (*MetaData, error)
	Create(ctx context.Context) (Governance, error)
}

// InitContext exposes the configuration of the governance being initialised.
type InitContext interface {
	Office() string
	Name() string
	Property(name, def string) string
}

// MetaData describes a governance.
type MetaData struct {
	// ExtensionType is the managed object extension the governance manages.
	ExtensionType string
}

// EnforceError reports a failed enforcement.
type EnforceError struct {
	Governance string
	Err        error
}

func (e *EnforceError) Error() string {
	return fmt.Sprintf("enforce governance %s: %v", e.Governance, e.Err)
}

func (e *EnforceError) Unwrap() error { return e.Err }

// ErrNotActive is returned when enforcing or disregarding an inactive governance.
var ErrNotActive = errors.New("governance not active")
