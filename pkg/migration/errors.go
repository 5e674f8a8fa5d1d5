// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"fmt"

	"github.com/schemaladder/schemaladder/pkg/version"
)

// ConfigError indicates invalid or missing configuration: no data source,
// an unparseable version, a malformed placeholder table.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Reason) }

// ResolveError indicates a candidate script could not be parsed or read.
type ResolveError struct {
	Script string
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("unable to resolve migration %q: %s", e.Script, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// DuplicateVersionError indicates two resolved migrations share a version.
type DuplicateVersionError struct {
	Version version.Version
	First   string
	Second  string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("found more than one migration with version %s: %q and %q",
		e.Version, e.First, e.Second)
}

// LedgerUnavailableError indicates the ledger could not be read or locked.
type LedgerUnavailableError struct {
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable: %s", e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// UnexpectedStateError indicates an operation was invoked against a ledger
// state it cannot support, e.g. init on a non-empty ledger.
type UnexpectedStateError struct {
	Reason string
}

func (e *UnexpectedStateError) Error() string { return fmt.Sprintf("unexpected state: %s", e.Reason) }

// ValidationFailedError indicates a checksum/type/description mismatch or a
// MISSING ledger entry.
type ValidationFailedError struct {
	Reason string
}

func (e *ValidationFailedError) Error() string { return fmt.Sprintf("validation failed: %s", e.Reason) }

// MigrationFailedError indicates a script or code migration raised during
// application.
type MigrationFailedError struct {
	Version version.Version
	Script  string
	Err     error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration %s (%s) failed: %s", e.Version, e.Script, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// FailedFutureError indicates the ledger contains a failed row above the
// highest catalog version, and the engine was not told to ignore it.
type FailedFutureError struct {
	Version version.Version
}

func (e *FailedFutureError) Error() string {
	return fmt.Sprintf("schema history contains a failed future migration %s", e.Version)
}

// PlaceholderUnresolvedError indicates a script referenced an unknown
// placeholder.
type PlaceholderUnresolvedError struct {
	Script      string
	Placeholder string
}

func (e *PlaceholderUnresolvedError) Error() string {
	return fmt.Sprintf("unable to resolve placeholder %q in script %q", e.Placeholder, e.Script)
}
