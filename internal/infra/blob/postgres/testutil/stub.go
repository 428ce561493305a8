// Package testutil provides a stub database for postgres blob store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn records statements and keeps rows in memory. It understands the
// small SQL surface the blob store issues: INSERT (with ON CONFLICT upsert),
// SELECT ... WHERE col = $1 / col LIKE $1 [ORDER BY col] and DELETE.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailPing   bool
	FailQuery  bool
	RowsErr    error
	FailTables map[string]bool
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("not implemented") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	up := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(up, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		if strings.Contains(up, "ON CONFLICT") {
			primary := cols[0]
			c.Tables[table] = filterRows(c.Tables[table], func(existing map[string]any) bool { return existing[primary] != row[primary] })
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(up, "DELETE FROM"):
		table, pred, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		before := len(c.Tables[table])
		if pred == nil {
			c.Tables[table] = nil
			return driver.RowsAffected(before), nil
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for delete %s", table)
		}
		c.Tables[table] = filterRows(c.Tables[table], func(r map[string]any) bool { return !pred.match(r, args[0].Value) })
		return driver.RowsAffected(before - len(c.Tables[table])), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	matched := c.Tables[sel.table]
	if sel.where != nil {
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for select %s", sel.table)
		}
		matched = filterRows(matched, func(r map[string]any) bool { return sel.where.match(r, args[0].Value) })
	}
	if sel.orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return fmt.Sprint(matched[i][sel.orderBy]) < fmt.Sprint(matched[j][sel.orderBy])
		})
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.cols, rows: values, err: c.RowsErr}, nil
}

// Rows returns a copy of the rows stored for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.Tables[table]...)
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

type predicate struct {
	col  string
	like bool
}

func (p *predicate) match(row map[string]any, arg any) bool {
	val := fmt.Sprint(row[p.col])
	want := fmt.Sprint(arg)
	if !p.like {
		return val == want
	}
	return strings.HasPrefix(val, unescapeLike(strings.TrimSuffix(want, "%")))
}

func unescapeLike(s string) string {
	return strings.NewReplacer(`\%`, `%`, `\_`, `_`, `\\`, `\`).Replace(s)
}

func parsePredicate(where string) (*predicate, error) {
	lower := strings.ToLower(where)
	if i := strings.Index(lower, " like "); i >= 0 {
		return &predicate{col: strings.TrimSpace(lower[:i]), like: true}, nil
	}
	parts := strings.SplitN(lower, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("cannot parse predicate: %s", where)
	}
	return &predicate{col: strings.TrimSpace(parts[0])}, nil
}

func filterRows(rows []map[string]any, keep func(map[string]any) bool) []map[string]any {
	var out []map[string]any
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseDelete(query string) (string, *predicate, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	rest := strings.TrimSpace(strings.TrimPrefix(lower, "delete from "))
	whereIdx := strings.Index(rest, " where ")
	if whereIdx == -1 {
		return strings.TrimSpace(rest), nil, nil
	}
	pred, err := parsePredicate(rest[whereIdx+len(" where "):])
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(rest[:whereIdx]), pred, nil
}

type selectStmt struct {
	table   string
	cols    []string
	where   *predicate
	orderBy string
}

func parseSelect(query string) (selectStmt, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	sel := selectStmt{cols: splitColumns(lower[len("select "):fromIdx])}
	rest := strings.TrimSpace(lower[fromIdx+len(" from "):])
	if i := strings.Index(rest, " order by "); i >= 0 {
		sel.orderBy = strings.TrimSpace(rest[i+len(" order by "):])
		rest = rest[:i]
	}
	if i := strings.Index(rest, " where "); i >= 0 {
		pred, err := parsePredicate(rest[i+len(" where "):])
		if err != nil {
			return selectStmt{}, err
		}
		sel.where = pred
		rest = rest[:i]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	sel.table = fields[0]
	return sel, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
