// Package lock keeps a single office floor running per lock file.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked reports that another process holds the lock.
var ErrLocked = errors.New("office floor already running")

// Owner is what the running floor records in its lock file.
type Owner struct {
	PID   int       `json:"pid"`
	Since time.Time `json:"since"`
}

// PIDLock is an flock(2) held on a file naming its owner. The lock lives as
// long as the descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes the lock at lockPath without blocking and records the
// current process as its owner. A held lock yields an error wrapping
// ErrLocked that names the owner when it can be read.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case errors.Is(err, unix.EWOULDBLOCK):
		_ = f.Close()
		if owner, ok := Holder(lockPath); ok {
			return nil, fmt.Errorf("%w (pid %d since %s, lock %s)", ErrLocked, owner.PID, owner.Since.Format(time.RFC3339), lockPath)
		}
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, lockPath)
	case err != nil:
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &PIDLock{path: lockPath, f: f}
	if err := l.record(Owner{PID: os.Getpid(), Since: time.Now().UTC()}); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

// record rewrites the file as "<pid>\n<since>\n".
func (l *PIDLock) record(o Owner) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	body := fmt.Sprintf("%d\n%s\n", o.PID, o.Since.Format(time.RFC3339))
	if _, err := l.f.WriteAt([]byte(body), 0); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Holder reads the owner recorded at lockPath. Files written without a
// start time still yield the pid.
func Holder(lockPath string) (Owner, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Owner{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return Owner{}, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || pid <= 0 {
		return Owner{}, false
	}
	owner := Owner{PID: pid}
	if sc.Scan() {
		owner.Since, _ = time.Parse(time.RFC3339, strings.TrimSpace(sc.Text()))
	}
	return owner, true
}

func (l *PIDLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself stays behind.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
