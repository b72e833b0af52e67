// Package builtin registers the sources every office floor ships with: the
// general purpose functions, the sqlite connection with its transaction
// governance, the timer and per-process workspaces.
package builtin

import (
	"fmt"

	"github.com/officefloor/officefloor/internal/source"
	"github.com/officefloor/officefloor/internal/sources/sqltx"
	"github.com/officefloor/officefloor/internal/sources/timer"
	"github.com/officefloor/officefloor/internal/sources/workspace"
)

// Function type names.
const (
	TypeLog       = "log"
	TypeFail      = "fail"
	TypeFlow      = "flow"
	TypeSQLExec   = "sql-exec"
	TypeSQLQuery  = "sql-query"
	TypeFileWrite = "file-write"
)

// Register adds the built in sources to reg.
func Register(reg *source.Registry) error {
	steps := []func() error{
		func() error { return reg.RegisterFunction(TypeLog, logSource{}) },
		func() error { return reg.RegisterFunction(TypeFail, failSource{}) },
		func() error { return reg.RegisterFunction(TypeFlow, flowSource{}) },
		func() error { return reg.RegisterFunction(TypeSQLExec, sqlExecSource{}) },
		func() error { return reg.RegisterFunction(TypeSQLQuery, sqlQuerySource{}) },
		func() error { return reg.RegisterFunction(TypeFileWrite, fileWriteSource{}) },
		func() error { return reg.RegisterManagedObject(sqltx.TypeConnection, sqltx.NewConnectionSource) },
		func() error { return reg.RegisterManagedObject(timer.Type, timer.NewSource) },
		func() error { return reg.RegisterManagedObject(workspace.Type, workspace.NewSource) },
		func() error { return reg.RegisterGovernance(sqltx.TypeGovernance, sqltx.NewGovernanceSource) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("register builtin sources: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built in sources.
func NewRegistry() (*source.Registry, error) {
	reg := source.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
