package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestJournalBeginComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	if err := j.Begin(ctx, BeginRequest{ID: "p1", Office: "SHOP", Function: "order", Parameter: map[string]int{"qty": 2}, SubmittedBy: "api"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	e, err := j.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Status != StatusRunning || e.CompletedAt != nil || string(e.Parameter) != `{"qty":2}` {
		t.Fatalf("unexpected running entry: %#v", e)
	}

	if err := j.Complete(ctx, execute.Outcome{ProcessID: "p1", Result: "ok"}, 42*time.Millisecond); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	e, err = j.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Status != StatusCompleted || e.CompletedAt == nil || string(e.Result) != `"ok"` || e.Duration != 42*time.Millisecond {
		t.Fatalf("unexpected completed entry: %#v", e)
	}
	if e.LastError != nil {
		t.Fatalf("unexpected error: %s", *e.LastError)
	}
}

func TestJournalFailedProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	if err := j.Begin(ctx, BeginRequest{ID: "p2", Office: "SHOP", Function: "order"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := j.Complete(ctx, execute.Outcome{ProcessID: "p2", Err: errors.New("boom")}, time.Millisecond); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	e, err := j.Get(ctx, "p2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Status != StatusFailed || e.LastError == nil || *e.LastError != "boom" {
		t.Fatalf("unexpected failed entry: %#v", e)
	}
	if e.SubmittedBy != "unknown" {
		t.Fatalf("expected default submitter, got %q", e.SubmittedBy)
	}
}

func TestJournalNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	if _, err := j.Get(ctx, "missing"); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
	if err := j.Complete(ctx, execute.Outcome{ProcessID: "missing"}, 0); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestJournalRecentNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := j.Begin(ctx, BeginRequest{ID: id, Office: "O", Function: "f"}); err != nil {
			t.Fatalf("Begin %s: %v", id, err)
		}
	}
	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected recent entries: %#v", got)
	}
}

func TestJournalEscalations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	j.EscalationHandled("O", "insert", "error", "rollback", "function")
	j.EscalationHandled("O", "", "panic", "", "floor")

	got, err := j.Escalations(ctx, 10)
	if err != nil {
		t.Fatalf("Escalations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 escalations, got %d", len(got))
	}
	if got[0].Kind != "panic" || got[0].Function != "" || got[0].Level != "floor" {
		t.Fatalf("unexpected newest escalation: %#v", got[0])
	}
	if got[1].Handler != "rollback" || got[1].RecordedAt.IsZero() {
		t.Fatalf("unexpected oldest escalation: %#v", got[1])
	}
}

func TestJournalBeginValidation(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	if err := j.Begin(context.Background(), BeginRequest{Office: "O", Function: "f"}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestJournalEscalationsDuring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []Escalation{
		{Office: "SHOP", Kind: "early", Level: "function", RecordedAt: base.Add(-time.Second)},
		{Office: "SHOP", Kind: "first", Level: "function", RecordedAt: base.Add(100 * time.Millisecond)},
		{Office: "DEPOT", Kind: "other", Level: "office", RecordedAt: base.Add(200 * time.Millisecond)},
		{Office: "SHOP", Kind: "second", Level: "office", RecordedAt: base.Add(120 * time.Millisecond)},
		{Office: "SHOP", Kind: "late", Level: "floor", RecordedAt: base.Add(time.Minute)},
	} {
		if err := j.RecordEscalation(ctx, e); err != nil {
			t.Fatalf("RecordEscalation %d: %v", i, err)
		}
	}

	got, err := j.EscalationsDuring(ctx, "SHOP", base, base.Add(time.Second))
	if err != nil {
		t.Fatalf("EscalationsDuring: %v", err)
	}
	if len(got) != 2 || got[0].Kind != "first" || got[1].Kind != "second" {
		t.Fatalf("unexpected escalations: %#v", got)
	}
}
