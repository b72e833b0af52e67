package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "data", "officefloor.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	first, _, _ := strings.Cut(string(b), "\n")
	if first != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected PID %d on the first line, got %q", os.Getpid(), b)
	}
	owner, ok := Holder(lockPath)
	if !ok || owner.PID != os.Getpid() {
		t.Fatalf("Holder = %+v, %v", owner, ok)
	}
	if owner.Since.IsZero() || time.Since(owner.Since) > time.Minute {
		t.Fatalf("unexpected start time %v", owner.Since)
	}
	if l.Path() != lockPath {
		t.Fatalf("Path = %q", l.Path())
	}
}

func TestAcquirePIDLockHeld(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "officefloor.lock")
	first, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	_, err = AcquirePIDLock(lockPath)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected holder pid in %q", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
}

func TestAcquirePIDLockEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHolderPIDOnly(t *testing.T) {
	t.Parallel()
	lockPath := filepath.Join(t.TempDir(), "old.lock")
	if err := os.WriteFile(lockPath, []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	owner, ok := Holder(lockPath)
	if !ok || owner.PID != 4242 || !owner.Since.IsZero() {
		t.Fatalf("Holder = %+v, %v", owner, ok)
	}

	if err := os.WriteFile(lockPath, []byte("nope\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, ok := Holder(lockPath); ok {
		t.Fatal("expected garbage to yield no holder")
	}
}

func TestHolderMissingFile(t *testing.T) {
	t.Parallel()
	if _, ok := Holder(filepath.Join(t.TempDir(), "none.lock")); ok {
		t.Fatal("expected no holder")
	}
}
