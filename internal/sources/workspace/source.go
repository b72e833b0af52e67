// Package workspace supplies each process with its own scratch directory.
//
// Workspaces are removed when the process completes unless the source sets
// retain, in which case workspaces older than max_age are swept when the
// office floor opens.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
)

// Type is the registered type name.
const Type = "workspace"

// Source supplies Dir objects.
type Source struct {
	manager *Manager
	retain  bool
	maxAge  time.Duration
	logger  *slog.Logger
}

var (
	_ managedobject.Source  = (*Source)(nil)
	_ managedobject.Starter = (*Source)(nil)
)

// NewSource creates an unconfigured source.
func NewSource() managedobject.Source { return &Source{} }

func (s *Source) Specification() []managedobject.Property {
	return []managedobject.Property{
		{Name: "base_dir", Label: "Directory holding the workspaces"},
		{Name: "retain", Label: "Keep workspaces after their process", Default: "false"},
		{Name: "max_age", Label: "Age at which retained workspaces are swept", Default: "24h"},
	}
}

func (s *Source) Init(ctx managedobject.InitContext) (*managedobject.MetaData, error) {
	base := ctx.Property("base_dir", "")
	if base == "" {
		base = filepath.Join(os.TempDir(), "officefloor", ctx.Office(), ctx.Name())
	}
	manager, err := NewManager(base)
	if err != nil {
		return nil, err
	}
	retain, err := strconv.ParseBool(ctx.Property("retain", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid retain: %w", err)
	}
	maxAge, err := time.ParseDuration(ctx.Property("max_age", "24h"))
	if err != nil || maxAge <= 0 {
		return nil, fmt.Errorf("invalid max_age %q", ctx.Property("max_age", ""))
	}
	s.manager, s.retain, s.maxAge = manager, retain, maxAge
	s.logger = log.WithOffice(ctx.Office()).With("managed_object", ctx.Name())
	return &managedobject.MetaData{ObjectType: "*workspace.Dir"}, nil
}

// Start sweeps stale retained workspaces.
func (s *Source) Start(ctx managedobject.ExecuteContext) error {
	if !s.retain {
		return nil
	}
	deleted, err := s.manager.Cleanup(ctx.Context(), s.maxAge)
	if err != nil {
		return fmt.Errorf("sweep workspaces: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("swept stale workspaces", "deleted", deleted)
	}
	return nil
}

func (s *Source) ManagedObject(ctx context.Context) (managedobject.ManagedObject, error) {
	dir, err := s.manager.Create(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	dir.retain = s.retain
	return dir, nil
}
