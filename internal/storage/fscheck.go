package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// errFilesystemUnknown is returned when the filesystem type cannot be read.
var errFilesystemUnknown = errors.New("filesystem type unknown")

// networkFilesystems break sqlite's file locking.
var networkFilesystems = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// fsDetector names the filesystem holding path.
type fsDetector func(path string) (string, error)

// checkLocalFilesystem refuses database paths on network filesystems. The
// check runs against the nearest existing ancestor of path.
func checkLocalFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w: %v", existing, errFilesystemUnknown, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Use a local path via journal.path or a sqlite source's path property", path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}

func isNetworkFilesystem(fsType string) bool {
	return slices.Contains(networkFilesystems, strings.ToLower(strings.TrimSpace(fsType)))
}
