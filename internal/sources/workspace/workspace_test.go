package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type initContext map[string]string

func (c initContext) Office() string { return "SHOP" }
func (c initContext) Name() string   { return "scratch" }
func (c initContext) Property(name, def string) string {
	if v, ok := c[name]; ok {
		return v
	}
	return def
}
func (c initContext) Properties() map[string]string { return c }

type executeContext struct{}

func (executeContext) Context() context.Context { return context.Background() }
func (executeContext) InvokeFlow(string, any, func(any, error)) error {
	return nil
}

func TestManagerCreateAndOpen(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewManager(baseDir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "proc-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if want := filepath.Join(baseDir, "proc-a"); ws.Path() != want {
		t.Fatalf("Create() path = %q, want %q", ws.Path(), want)
	}
	if info, err := os.Stat(ws.Path()); err != nil || !info.IsDir() {
		t.Fatalf("workspace is not a directory: %v", err)
	}

	opened, err := mgr.Open(context.Background(), "proc-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened.Path() != ws.Path() || opened.ID() != "proc-a" {
		t.Fatalf("Open() = %+v, want %+v", opened, ws)
	}

	if _, err := mgr.Create(context.Background(), "proc-a"); err == nil {
		t.Fatal("expected error creating an existing workspace")
	}
	if _, err := mgr.Open(context.Background(), "missing"); err == nil {
		t.Fatal("expected error opening a missing workspace")
	}
}

func TestManagerRejectsEscapingNames(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	for _, id := range []string{"", " ", ".", "..", "a/b", `a\b`} {
		if _, err := mgr.Create(context.Background(), id); err == nil {
			t.Fatalf("Create(%q) should fail", id)
		}
	}
	if _, err := NewManager("  "); err == nil {
		t.Fatal("expected error for empty base directory")
	}
}

func TestManagerCleanup(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "workspaces"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	deleted, err := mgr.Cleanup(context.Background(), time.Hour)
	if err != nil || deleted != 0 {
		t.Fatalf("Cleanup() on missing base = %d, %v", deleted, err)
	}

	oldWS, err := mgr.Create(context.Background(), "proc-old")
	if err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	newWS, err := mgr.Create(context.Background(), "proc-new")
	if err != nil {
		t.Fatalf("Create(new) error = %v", err)
	}
	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldWS.Path(), oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	deleted, err = mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", deleted)
	}
	if _, err := os.Stat(oldWS.Path()); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newWS.Path()); err != nil {
		t.Fatalf("new workspace should still exist, err = %v", err)
	}
	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive age")
	}
}

func TestDirWriteFilesReset(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ws, err := mgr.Create(context.Background(), "proc")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	path, err := ws.Write("b.json", []byte(`{}`))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if path != filepath.Join(ws.Path(), "b.json") {
		t.Fatalf("Write() path = %q", path)
	}
	if err := os.MkdirAll(filepath.Join(ws.Path(), "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path(), "nested", "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Write("../escape", nil); err == nil {
		t.Fatal("expected error writing outside the workspace")
	}

	files, err := ws.Files()
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 2 || files[0] != "b.json" || files[1] != filepath.Join("nested", "a.txt") {
		t.Fatalf("Files() = %v", files)
	}

	if err := ws.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	files, err = ws.Files()
	if err != nil || len(files) != 0 {
		t.Fatalf("Files() after reset = %v, %v", files, err)
	}
	if _, err := os.Stat(ws.Path()); err != nil {
		t.Fatalf("reset should keep the directory: %v", err)
	}
}

func TestSourceRemovesWorkspaceOnDiscard(t *testing.T) {
	base := t.TempDir()
	src := NewSource()
	if _, err := src.Init(initContext{"base_dir": base}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	mo, err := src.ManagedObject(context.Background())
	if err != nil {
		t.Fatalf("ManagedObject() error = %v", err)
	}
	obj, err := mo.Object()
	if err != nil {
		t.Fatalf("Object() error = %v", err)
	}
	dir := obj.(*Dir)
	if filepath.Dir(dir.Path()) != base {
		t.Fatalf("workspace %q not under %q", dir.Path(), base)
	}

	if err := managedobject.Recycle(nil, mo); err != managedobject.ErrNotRecycled {
		t.Fatalf("Recycle() error = %v", err)
	}
	if _, err := os.Stat(dir.Path()); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, err = %v", err)
	}
}

func TestSourceRetainsAndSweeps(t *testing.T) {
	base := t.TempDir()
	src := NewSource()
	if _, err := src.Init(initContext{"base_dir": base, "retain": "true", "max_age": "1h"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	mo, err := src.ManagedObject(context.Background())
	if err != nil {
		t.Fatalf("ManagedObject() error = %v", err)
	}
	dir := mo.(*Dir)
	if err := managedobject.Recycle(nil, mo); err != managedobject.ErrNotRecycled {
		t.Fatalf("Recycle() error = %v", err)
	}
	if _, err := os.Stat(dir.Path()); err != nil {
		t.Fatalf("retained workspace should exist: %v", err)
	}

	stale := filepath.Join(base, "stale")
	if err := os.Mkdir(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := src.(managedobject.Starter).Start(executeContext{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale workspace should be swept, err = %v", err)
	}
	if _, err := os.Stat(dir.Path()); err != nil {
		t.Fatalf("fresh workspace should survive the sweep: %v", err)
	}
}

func TestSourceInitRejectsBadProperties(t *testing.T) {
	for _, props := range []initContext{
		{"retain": "sometimes"},
		{"max_age": "-1h"},
		{"max_age": "soon"},
	} {
		if _, err := NewSource().Init(props); err == nil {
			t.Fatalf("Init(%v) should fail", props)
		}
	}
}
