package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Dir is the object handed to functions: one process's scratch directory.
type Dir struct {
	id     string
	path   string
	retain bool
}

// ID returns the workspace name.
func (d *Dir) ID() string { return d.id }

// Path returns the absolute directory.
func (d *Dir) Path() string { return d.path }

// Write stores data as the file name inside the workspace and returns its
// path.
func (d *Dir) Write(name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("write workspace file: %w", err)
	}
	path := filepath.Join(d.path, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write workspace file: %w", err)
	}
	return path, nil
}

// Files lists the regular files in the workspace relative to it, sorted.
func (d *Dir) Files() ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(d.path, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == d.path || entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.path, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace %q: %w", d.id, err)
	}
	sort.Strings(files)
	return files, nil
}

// Object implements managedobject.ManagedObject.
func (d *Dir) Object() (any, error) { return d, nil }

// Close removes the directory unless the source retains workspaces.
func (d *Dir) Close() error {
	if d.retain {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("remove workspace %q: %w", d.id, err)
	}
	return nil
}

// Reset empties the directory so a pooled workspace starts clean.
func (d *Dir) Reset() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("reset workspace %q: %w", d.id, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(d.path, entry.Name())); err != nil {
			return fmt.Errorf("reset workspace %q: %w", d.id, err)
		}
	}
	return nil
}
