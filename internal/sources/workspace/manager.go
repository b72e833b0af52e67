package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager keeps workspace directories under one base directory.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager creates a manager rooted at baseDir. The directory is created
// on first use.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	return &Manager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// BaseDir returns the directory holding the workspaces.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes a new, empty workspace named id.
func (m *Manager) Create(ctx context.Context, id string) (*Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", id, err)
	}
	return &Dir{id: id, path: path}, nil
}

// Open returns an existing workspace.
func (m *Manager) Open(ctx context.Context, id string) (*Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace %q: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path for %q is not a directory", id)
	}
	return &Dir{id: id, path: path}, nil
}

// Cleanup removes workspaces last modified before olderThan ago and returns
// how many it removed.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	deleted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return deleted, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return deleted, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}

func (m *Manager) path(id string) (string, error) {
	if err := validateName(id); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, id), nil
}

// validateName rejects names that would escape their parent directory.
func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("name is empty")
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("name %q is invalid", name)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("name %q must not contain path separators", name)
	case filepath.Clean(trimmed) != trimmed:
		return fmt.Errorf("name %q is invalid", name)
	}
	return nil
}
