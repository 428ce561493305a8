// Package sqlbundle exposes the embedded entity-model DDL bundles for adapters.
package sqlbundle

import (
	"strings"

	sqldocs "praxis/docs/schema/sql"
)

// SQLite returns the canonical SQLite DDL for the four entity tables.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the DDL of the postgres snapshot table.
func Postgres() string {
	return sqldocs.Postgres
}

// SplitStatements splits the bundled DDL into statements at lines ending in
// ";", dropping blank lines and "--" comments. It does not understand
// compound statements such as trigger bodies; scripts from outside the
// bundle go to the engine whole.
func SplitStatements(ddl string) []string {
	var stmts []string
	var current strings.Builder
	for _, line := range strings.Split(ddl, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(strings.TrimRight(line, "\r"))
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}

// TableStatements returns the SQLite statements that create table and its indexes.
func TableStatements(table string) []string {
	var out []string
	for _, stmt := range SplitStatements(SQLite()) {
		fields := strings.Fields(strings.ToLower(stmt))
		for i, f := range fields {
			name := strings.TrimSuffix(f, "(")
			if name != table {
				continue
			}
			if i > 0 && (fields[i-1] == "exists" || fields[i-1] == "table" || fields[i-1] == "on") {
				out = append(out, stmt)
				break
			}
		}
	}
	return out
}
