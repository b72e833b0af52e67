package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/log"
)

const maxErrorBytes = 16 * 1024

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// Begin records a started process.
func (j *Journal) Begin(ctx context.Context, req BeginRequest) error {
	if req.ID == "" {
		return fmt.Errorf("process id is empty")
	}
	if req.Office == "" || req.Function == "" {
		return fmt.Errorf("office and function are required")
	}
	submittedBy := req.SubmittedBy
	if submittedBy == "" {
		submittedBy = "unknown"
	}
	param, err := encode(req.Parameter)
	if err != nil {
		return fmt.Errorf("encode parameter: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO process_journal(id, office, function, status, parameter, submitted_by, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, req.ID, req.Office, req.Function, StatusRunning, param, submittedBy, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin process: %w", err)
	}
	return nil
}

// Complete records the outcome of a process.
func (j *Journal) Complete(ctx context.Context, outcome execute.Outcome, elapsed time.Duration) error {
	status := StatusCompleted
	var lastError any
	if outcome.Err != nil {
		status = StatusFailed
		msg := outcome.Err.Error()
		if len(msg) > maxErrorBytes {
			msg = msg[:maxErrorBytes]
		}
		lastError = msg
	}
	result, err := encode(outcome.Result)
	if err != nil {
		// Results need not be JSON encodable.
		result = nil
	}

	res, err := j.db.ExecContext(ctx, `
UPDATE process_journal
SET status = ?, result = ?, last_error = ?, completed_at = ?, duration_ms = ?
WHERE id = ?;
`, status, result, lastError, time.Now().UTC().Format(time.RFC3339Nano), elapsed.Milliseconds(), outcome.ProcessID)
	if err != nil {
		return fmt.Errorf("complete process: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete process rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete process %s: %w", outcome.ProcessID, ErrProcessNotFound)
	}
	return nil
}

// Get returns the entry of one process.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, office, function, status, parameter, result, last_error, submitted_by, started_at, completed_at, duration_ms
FROM process_journal
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get process %s: %w", id, ErrProcessNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, office, function, status, parameter, result, last_error, submitted_by, started_at, completed_at, duration_ms
FROM process_journal
ORDER BY rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return out, nil
}

// RecordEscalation appends a handled escalation.
func (j *Journal) RecordEscalation(ctx context.Context, e Escalation) error {
	at := e.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO escalation_log(office, function, kind, handler, level, recorded_at)
VALUES(?, ?, ?, ?, ?, ?);
`, e.Office, nullable(e.Function), e.Kind, nullable(e.Handler), e.Level, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}
	return nil
}

// Escalations returns up to limit handled escalations, newest first.
func (j *Journal) Escalations(ctx context.Context, limit int) ([]Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT office, function, kind, handler, level, recorded_at
FROM escalation_log
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	return scanEscalations(rows, nil)
}

// EscalationsDuring returns the escalations handled in office between from
// and to inclusive, oldest first. A zero to means now.
func (j *Journal) EscalationsDuring(ctx context.Context, office string, from, to time.Time) ([]Escalation, error) {
	if to.IsZero() {
		to = time.Now()
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT office, function, kind, handler, level, recorded_at
FROM escalation_log
WHERE office = ?
ORDER BY id ASC;
`, office)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	// recorded_at text does not sort chronologically, so the window is
	// applied after parsing.
	return scanEscalations(rows, func(e Escalation) bool {
		return !e.RecordedAt.Before(from) && !e.RecordedAt.After(to)
	})
}

func scanEscalations(rows *sql.Rows, keep func(Escalation) bool) ([]Escalation, error) {
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		var (
			e          Escalation
			function   sql.NullString
			handler    sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&e.Office, &function, &e.Kind, &handler, &e.Level, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.Function = function.String
		e.Handler = handler.String
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// Observer returns an execute.Observer journalling handled escalations.
// Processes are journalled through Begin and Complete instead.
func (j *Journal) Observer() execute.Observer {
	return escalationObserver{journal: j}
}

type escalationObserver struct {
	execute.NopObserver
	journal *Journal
}

func (o escalationObserver) EscalationHandled(office, function, kind, handler, level string) {
	o.journal.EscalationHandled(office, function, kind, handler, level)
}

// EscalationHandled journals an escalation as it is handled. Failures are
// logged.
func (j *Journal) EscalationHandled(office, function, kind, handler, level string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := j.RecordEscalation(ctx, Escalation{
		Office:   office,
		Function: function,
		Kind:     kind,
		Handler:  handler,
		Level:    level,
	})
	if err != nil {
		j.logger.Warn("journal escalation failed", "office", office, "kind", kind, "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e            Entry
		status       string
		parameter    sql.NullString
		result       sql.NullString
		lastError    sql.NullString
		startedAtS   string
		completedAtS sql.NullString
		durationMS   sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.Office, &e.Function, &status, &parameter, &result, &lastError,
		&e.SubmittedBy, &startedAtS, &completedAtS, &durationMS); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if parameter.Valid {
		e.Parameter = json.RawMessage(parameter.String)
	}
	if result.Valid {
		e.Result = json.RawMessage(result.String)
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			e.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		e.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return &e, nil
}

func encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
