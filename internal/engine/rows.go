package engine

import (
	"context"
	"database/sql"
	"errors"
)

// ResultSet holds the rows produced by a statement.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Maps returns each row keyed by column name.
func (rs ResultSet) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		m := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

func scanAll(rows *sql.Rows) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}
	rs := ResultSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}

// Statement is a prepared statement bound to its engine's connection.
type Statement struct {
	stmt  *sql.Stmt
	query string
	freed bool
}

// ErrStatementFreed is returned when running a freed statement.
var ErrStatementFreed = errors.New("engine: statement freed")

// Run executes the statement with params and returns the affected row count.
func (s *Statement) Run(ctx context.Context, params ...any) (int64, error) {
	if s.freed {
		return 0, ErrStatementFreed
	}
	res, err := s.stmt.ExecContext(ctx, params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SQL returns the statement text.
func (s *Statement) SQL() string { return s.query }

// Free releases the statement. Freeing twice is a no-op.
func (s *Statement) Free() error {
	if s.freed {
		return nil
	}
	s.freed = true
	return s.stmt.Close()
}
