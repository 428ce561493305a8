package domain

import (
	"testing"

	"praxis/testutil"
)

// The domain package is shared with every caller, so it stays free of
// internal packages and third-party code.
func TestDomainImportBoundaries(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not import internal packages")
	testutil.AssertNoDirectImports(t, ".", testutil.NonStdlibForbidden, "domain depends on the standard library only")
}
