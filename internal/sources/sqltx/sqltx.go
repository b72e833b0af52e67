// Package sqltx supplies sqlite connections as managed objects together with
// the transaction governance that commits the work done through them.
//
// A connection executes directly against the database until a transaction
// governance governs it. From then on every statement runs inside one
// transaction, which the governance commits when enforced and rolls back when
// disregarded.
//
// The default in-memory database has a single connection. While one Conn
// holds a transaction, statements on any other Conn of the same source wait
// for it to end, so a function must not use an ungoverned connection while a
// governed one is open. Configure a file path to avoid this.
package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/managedobject"
	"github.com/officefloor/officefloor/internal/storage"
)

// Registered type names.
const (
	TypeConnection = "sqlite"
	TypeGovernance = "transaction"
	// ExtensionType is the extension connections expose to the governance.
	ExtensionType = "transaction"
)

// ConnectionSource supplies connections to one sqlite database. The database
// is opened by the first process that needs a connection.
type ConnectionSource struct {
	path   string
	schema string

	mu sync.Mutex
	db *sql.DB
}

var (
	_ managedobject.Source  = (*ConnectionSource)(nil)
	_ managedobject.Stopper = (*ConnectionSource)(nil)
)

// NewConnectionSource creates an unconfigured source.
func NewConnectionSource() managedobject.Source { return &ConnectionSource{} }

func (s *ConnectionSource) Specification() []managedobject.Property {
	return []managedobject.Property{
		{Name: "path", Label: "Database path", Default: storage.MemoryPath},
		{Name: "schema", Label: "SQL run once when the database opens"},
	}
}

func (s *ConnectionSource) Init(ctx managedobject.InitContext) (*managedobject.MetaData, error) {
	s.path = ctx.Property("path", storage.MemoryPath)
	if s.path == "" {
		return nil, errors.New("property path must not be empty")
	}
	s.schema = ctx.Property("schema", "")
	return &managedobject.MetaData{
		ObjectType: "*sqltx.Conn",
		Extensions: []managedobject.Extension{{
			Type: ExtensionType,
			Extract: func(mo managedobject.ManagedObject) (any, error) {
				conn, ok := mo.(*Conn)
				if !ok {
					return nil, fmt.Errorf("managed object %T is not a sqlite connection", mo)
				}
				return &Transaction{conn: conn}, nil
			},
		}},
	}, nil
}

func (s *ConnectionSource) ManagedObject(ctx context.Context) (managedobject.ManagedObject, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{db: db}, nil
}

func (s *ConnectionSource) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := storage.Open(ctx, s.path)
	if err != nil {
		return nil, err
	}
	if s.schema != "" {
		if _, err := db.ExecContext(ctx, s.schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	log.WithComponent("sqltx").Debug("sqlite database opened", "path", s.path)
	s.db = db
	return db, nil
}

// Stop closes the database.
func (s *ConnectionSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Conn is the object handed to functions.
type Conn struct {
	db *sql.DB

	mu    sync.Mutex
	tx    *sql.Tx
	dirty bool
}

var _ managedobject.Resettable = (*Conn)(nil)

func (c *Conn) Object() (any, error) { return c, nil }

// ExecContext executes a statement, inside the governed transaction if any.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := c.statement(); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query, inside the governed transaction if any.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := c.statement(); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := c.statement(); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return c.db.QueryRowContext(ctx, query, args...)
}

// InTransaction reports whether a governance currently governs c.
func (c *Conn) InTransaction() bool { return c.current() != nil }

func (c *Conn) current() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// statement returns the open transaction, if any, and marks it dirty. A query
// may write, as with INSERT ... RETURNING.
func (c *Conn) statement() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		c.dirty = true
	}
	return c.tx
}

// Reset rolls back a transaction left open before c returns to its pool.
func (c *Conn) Reset() error {
	return (&Transaction{conn: c}).Rollback()
}

// Transaction is the extension a connection exposes to governance.
type Transaction struct {
	conn *Conn
}

// Begin starts the transaction. Beginning an already begun transaction is a
// no-op. The transaction outlives cancellation of ctx so that an abandoned
// caller does not roll back work the process later commits.
func (t *Transaction) Begin(ctx context.Context) error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return nil
	}
	tx, err := c.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	c.tx = tx
	c.dirty = false
	return nil
}

// Dirty reports whether a statement was executed within the transaction.
func (t *Transaction) Dirty() bool {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	return t.conn.tx != nil && t.conn.dirty
}

// Commit commits the transaction. A transaction that executed nothing is
// rolled back instead.
func (t *Transaction) Commit() (committed bool, err error) {
	tx, dirty := t.take()
	if tx == nil {
		return false, nil
	}
	if !dirty {
		return false, ignoreDone(tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// Rollback rolls back the transaction, if begun.
func (t *Transaction) Rollback() error {
	tx, _ := t.take()
	if tx == nil {
		return nil
	}
	if err := ignoreDone(tx.Rollback()); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (t *Transaction) take() (*sql.Tx, bool) {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, dirty := c.tx, c.dirty
	c.tx, c.dirty = nil, false
	return tx, dirty
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
