package repository

import (
	"testing"

	"praxis/testutil"
)

// SQL reaches the database only through the engine. Everything above it
// works with engine handles and entity bindings.
func TestSQLStaysInEngine(t *testing.T) {
	for _, dir := range []string{".", "../pipeline", "../resolver", "../snapshot", "../core", "../entitymodel", "../../cmd/praxisdb"} {
		testutil.AssertNoDirectImports(t, dir, testutil.SQLDriverImportForbidden, dir+" must use the engine")
	}
}
