// Package blob re-exports core blob abstractions and selects a driver from
// configuration. Packages outside the blob tree depend on blob.Store only.
package blob

import (
	"praxis/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	DriverPostgres   = core.DriverPostgres
	DriverBadger     = core.DriverBadger
	DriverSQLite     = core.DriverSQLite
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrNotFound is returned for missing keys.
	ErrNotFound = core.ErrNotFound
)
