package builtin

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/function"
)

// Execer is satisfied by *sqltx.Conn, *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sqltx.Conn, *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlQuery(ctx function.SourceContext) (string, error) {
	if len(ctx.Objects()) == 0 {
		return "", fmt.Errorf("%s needs a connection as its first object", ctx.Name())
	}
	query := ctx.Property("query", "")
	if query == "" {
		return "", fmt.Errorf("%s: property query is required", ctx.Name())
	}
	return query, nil
}

// sqlArgs turns the parameter into statement arguments: a slice is spread, a
// map becomes named arguments and anything else is a single argument.
func sqlArgs(parameter any) []any {
	switch p := parameter.(type) {
	case nil:
		return nil
	case []any:
		return p
	case map[string]any:
		names := make([]string, 0, len(p))
		for name := range p {
			names = append(names, name)
		}
		sort.Strings(names)
		args := make([]any, 0, len(p))
		for _, name := range names {
			args = append(args, sql.Named(name, p[name]))
		}
		return args
	default:
		return []any{p}
	}
}

func connection[T any](fc function.Context) (T, error) {
	var zero T
	obj, err := fc.Object(0)
	if err != nil {
		return zero, err
	}
	conn, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: object %T cannot run sql", escalation.ErrIllegalArgument, obj)
	}
	return conn, nil
}

// sqlExecSource builds functions executing a statement with the parameter as
// arguments. The result is the number of rows affected.
type sqlExecSource struct{}

func (sqlExecSource) Function(ctx function.SourceContext) (function.Function, error) {
	query, err := sqlQuery(ctx)
	if err != nil {
		return nil, err
	}
	return function.Func(func(fc function.Context) (any, error) {
		conn, err := connection[Execer](fc)
		if err != nil {
			return nil, err
		}
		res, err := conn.ExecContext(fc.Context(), query, sqlArgs(fc.Parameter())...)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		return res.RowsAffected()
	}), nil
}

// sqlQuerySource builds functions running a query. The result is one map per
// row keyed by column name.
type sqlQuerySource struct{}

func (sqlQuerySource) Function(ctx function.SourceContext) (function.Function, error) {
	query, err := sqlQuery(ctx)
	if err != nil {
		return nil, err
	}
	return function.Func(func(fc function.Context) (any, error) {
		conn, err := connection[Querier](fc)
		if err != nil {
			return nil, err
		}
		rows, err := conn.QueryContext(fc.Context(), query, sqlArgs(fc.Parameter())...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		return scanRows(rows)
	}), nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
