package entitymodel

import (
	"context"
	"fmt"
	"strings"

	"praxis/internal/engine"
	"praxis/internal/entitymodel/sqlbundle"
)

// IDColumn is the primary key column shared by every entity table.
const IDColumn = "accession_id"

// Column describes one canonical column.
type Column struct {
	Name string
	Kind Kind
	// Required json columns store "{}" instead of NULL.
	Required bool
}

// LegacyTable is an older physical shape of a canonical table.
type LegacyTable struct {
	Name string
	// Renames maps stored column names to canonical ones.
	Renames map[string]string
}

// Table describes a canonical entity table and its legacy variants.
type Table struct {
	Name    string
	Columns []Column
	Legacy  []LegacyTable
}

// Column returns the canonical column named name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Binding ties a Table to the physical table present in an engine.
type Binding struct {
	Table *Table
	// Name is the physical table name.
	Name string
	// Legacy reports a binding to an older table shape.
	Legacy bool
	// NoRowID reports a WITHOUT ROWID table; rows are then listed in
	// primary key order.
	NoRowID bool

	toCanonical map[string]string
	toPhysical  map[string]string
}

// Bind locates the physical table for t. It prefers the canonical table,
// then each legacy variant in order. ok is false when none exists.
func Bind(ctx context.Context, eng *engine.Engine, t *Table) (b Binding, ok bool, err error) {
	exists, err := eng.TableExists(ctx, t.Name)
	if err != nil {
		return Binding{}, false, fmt.Errorf("lookup table %s: %w", t.Name, err)
	}
	if exists {
		b := canonicalBinding(t)
		if b.NoRowID, err = withoutRowID(ctx, eng, t.Name); err != nil {
			return Binding{}, false, err
		}
		return b, true, nil
	}
	for _, legacy := range t.Legacy {
		exists, err := eng.TableExists(ctx, legacy.Name)
		if err != nil {
			return Binding{}, false, fmt.Errorf("lookup table %s: %w", legacy.Name, err)
		}
		if !exists {
			continue
		}
		cols, err := eng.Columns(ctx, legacy.Name)
		if err != nil {
			return Binding{}, false, fmt.Errorf("columns of %s: %w", legacy.Name, err)
		}
		b := Binding{Table: t, Name: legacy.Name, Legacy: true, toCanonical: map[string]string{}, toPhysical: map[string]string{}}
		if b.NoRowID, err = withoutRowID(ctx, eng, legacy.Name); err != nil {
			return Binding{}, false, err
		}
		for _, col := range cols {
			canonical := col
			if renamed, ok := legacy.Renames[col]; ok {
				canonical = renamed
			}
			if _, known := t.Column(canonical); !known {
				continue
			}
			b.toCanonical[col] = canonical
			b.toPhysical[canonical] = col
		}
		return b, true, nil
	}
	return Binding{}, false, nil
}

// Ensure binds t, creating the canonical table from the embedded DDL when no
// variant exists.
func Ensure(ctx context.Context, eng *engine.Engine, t *Table) (Binding, error) {
	b, ok, err := Bind(ctx, eng, t)
	if err != nil || ok {
		return b, err
	}
	stmts := sqlbundle.TableStatements(t.Name)
	if len(stmts) == 0 {
		return Binding{}, fmt.Errorf("no DDL for table %s", t.Name)
	}
	for _, stmt := range stmts {
		if _, err := eng.Exec(ctx, stmt); err != nil {
			return Binding{}, fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return canonicalBinding(t), nil
}

func withoutRowID(ctx context.Context, eng *engine.Engine, table string) (bool, error) {
	rs, err := eng.Query(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, fmt.Errorf("definition of %s: %w", table, err)
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return false, nil
	}
	var ddl string
	switch v := rs.Rows[0][0].(type) {
	case string:
		ddl = v
	case []byte:
		ddl = string(v)
	}
	return strings.Contains(strings.ToUpper(strings.Join(strings.Fields(ddl), " ")), "WITHOUT ROWID"), nil
}

func canonicalBinding(t *Table) Binding {
	b := Binding{Table: t, Name: t.Name, toCanonical: map[string]string{}, toPhysical: map[string]string{}}
	for _, c := range t.Columns {
		b.toCanonical[c.Name] = c.Name
		b.toPhysical[c.Name] = c.Name
	}
	return b
}

// Decode converts a result set from this table into canonical records.
// Columns unknown to the table are ignored.
func (b Binding) Decode(rs engine.ResultSet) ([]Record, error) {
	out := make([]Record, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		rec := make(Record, len(b.Table.Columns))
		for i, col := range rs.Columns {
			if i >= len(row) {
				break
			}
			canonical, ok := b.toCanonical[col]
			if !ok {
				continue
			}
			c, _ := b.Table.Column(canonical)
			v, err := DecodeValue(c.Kind, row[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", b.Name, col, err)
			}
			rec[canonical] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// encode returns physical column names and stored values for rec, skipping
// canonical columns the physical table lacks.
func (b Binding) encode(rec Record, skipID bool) ([]string, []any, error) {
	var (
		cols []string
		args []any
	)
	for _, c := range b.Table.Columns {
		if skipID && c.Name == IDColumn {
			continue
		}
		physical, ok := b.toPhysical[c.Name]
		if !ok {
			continue
		}
		v, err := EncodeValue(c.Kind, rec[c.Name])
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", b.Name, c.Name, err)
		}
		if v == nil && c.Kind == KindJSON && c.Required {
			v = "{}"
		}
		cols = append(cols, physical)
		args = append(args, v)
	}
	return cols, args, nil
}

// Filter restricts a select to rows whose canonical column equals Value.
type Filter struct {
	Column string
	Value  any
}

// Where builds an equality filter.
func Where(column string, value any) Filter { return Filter{Column: column, Value: value} }

// SelectSQL builds a SELECT * statement for the given filters.
func (b Binding) SelectSQL(filters ...Filter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, f := range filters {
		c, ok := b.Table.Column(f.Column)
		if !ok {
			return "", nil, fmt.Errorf("unknown column %q for %s", f.Column, b.Table.Name)
		}
		physical, ok := b.toPhysical[f.Column]
		if !ok {
			return "", nil, fmt.Errorf("column %q missing from %s", f.Column, b.Name)
		}
		v, err := EncodeValue(c.Kind, f.Value)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			clauses = append(clauses, quote(physical)+" IS NULL")
			continue
		}
		clauses = append(clauses, quote(physical)+" = ?")
		args = append(args, v)
	}
	query := "SELECT * FROM " + quote(b.Name)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query + b.orderBy(), args, nil
}

// orderBy lists rows in insertion order, or by primary key for tables
// without a rowid.
func (b Binding) orderBy() string {
	if !b.NoRowID {
		return " ORDER BY rowid"
	}
	if id, ok := b.toPhysical[IDColumn]; ok {
		return " ORDER BY " + quote(id)
	}
	return ""
}

// Select runs SelectSQL and decodes the rows.
func (b Binding) Select(ctx context.Context, eng *engine.Engine, filters ...Filter) ([]Record, error) {
	query, args, err := b.SelectSQL(filters...)
	if err != nil {
		return nil, err
	}
	rs, err := eng.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", b.Name, err)
	}
	return b.Decode(rs)
}

// Insert writes recs through one prepared statement.
func (b Binding) Insert(ctx context.Context, eng *engine.Engine, recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols, _, err := b.encode(recs[0], false)
	if err != nil {
		return err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := eng.Prepare(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(b.Name), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", b.Name, err)
	}
	defer func() { _ = stmt.Free() }()
	for _, rec := range recs {
		_, args, err := b.encode(rec, false)
		if err != nil {
			return err
		}
		if _, err := stmt.Run(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", b.Name, err)
		}
	}
	return nil
}

// Update rewrites every column of the row keyed by rec's accession id and
// reports whether a row matched.
func (b Binding) Update(ctx context.Context, eng *engine.Engine, rec Record) (bool, error) {
	cols, args, err := b.encode(rec, true)
	if err != nil {
		return false, err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c) + " = ?"
	}
	stmt, err := eng.Prepare(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quote(b.Name), strings.Join(sets, ", "), quote(b.toPhysical[IDColumn])))
	if err != nil {
		return false, fmt.Errorf("prepare update %s: %w", b.Name, err)
	}
	defer func() { _ = stmt.Free() }()
	n, err := stmt.Run(ctx, append(args, rec.Text(IDColumn))...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", b.Name, err)
	}
	return n > 0, nil
}

// Delete removes the row keyed by id and reports whether it existed.
func (b Binding) Delete(ctx context.Context, eng *engine.Engine, id string) (bool, error) {
	stmt, err := eng.Prepare(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(b.Name), quote(b.toPhysical[IDColumn])))
	if err != nil {
		return false, fmt.Errorf("prepare delete %s: %w", b.Name, err)
	}
	defer func() { _ = stmt.Free() }()
	n, err := stmt.Run(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", b.Name, err)
	}
	return n > 0, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
