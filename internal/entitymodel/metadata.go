// Package entitymodel binds the domain entities to their SQLite tables and
// owns the single codec that converts between stored column values and
// typed entity fields.
package entitymodel

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"praxis/internal/entitymodel/sqlbundle"
)

// Version returns a short fingerprint of the canonical DDL. Snapshots built
// from a different schema report a different version.
func Version() string {
	sum := sha256.Sum256([]byte(sqlbundle.SQLite()))
	return hex.EncodeToString(sum[:6])
}

// NewSchemaHandler serves the canonical DDL so it can be used as the schema
// bootstrap asset by other instances.
func NewSchemaHandler() http.Handler {
	ddl := []byte(sqlbundle.SQLite())
	version := Version()
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/sql; charset=utf-8")
		w.Header().Set("X-Schema-Version", version)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(ddl)
	})
}
