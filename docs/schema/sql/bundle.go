// Package sqldocs exposes the praxis SQL bundles directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the canonical four-table entity model DDL.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the snapshot table DDL used by the postgres blob driver.
//
//go:embed postgres.sql
var Postgres string
