// SPDX-License-Identifier: Apache-2.0

// Package migration holds the value types shared by the resolver, the
// ledger and the info service: the migration catalog entry, the applied
// ledger row, and the joined view between the two.
package migration

import (
	"context"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// Type identifies how a migration was produced.
type Type string

const (
	TypeSQL    Type = "SQL"
	TypeCode   Type = "CODE"
	TypeSchema Type = "SCHEMA"
	TypeInit   Type = "INIT"
)

// State is the derived lifecycle state of a single version, computed by
// the info service by joining the catalog against the ledger.
type State string

const (
	StatePending     State = "PENDING"
	StateSuccess     State = "SUCCESS"
	StateFailed      State = "FAILED"
	StateMissing     State = "MISSING"
	StateFuture      State = "FUTURE"
	StateOutOfOrder  State = "OUT_OF_ORDER"
)

// Executable is the capability a resolved migration exposes to apply
// itself against a live connection. SQL migrations read, substitute and
// split a script file; CODE migrations run a host-registered function.
type Executable interface {
	// Apply runs the migration body against conn, which participates in
	// whatever transaction the executor has already opened (or none, if
	// the adapter doesn't support transactional DDL).
	Apply(ctx context.Context, conn adapter.Conn) error
}

// ResolvedMigration is a single migration discovered by the resolver.
type ResolvedMigration struct {
	Version     version.Version
	Description string
	Type        Type
	Script      string
	// Checksum is absent (nil) for CODE migrations that don't opt into
	// checksumming.
	Checksum nullable.Nullable[int32]
	Executor Executable
}

// AppliedMigration is a single row of the on-database ledger.
type AppliedMigration struct {
	InstalledRank int
	Version       version.Version
	Description   string
	Type          Type
	Script        nullable.Nullable[string]
	Checksum      nullable.Nullable[int32]
	InstalledOn   time.Time
	InstalledBy   string
	ExecutionTime time.Duration
	Success       bool
	Current       bool
}

// Info is the unified view of one version, combining whatever the
// resolver found and whatever the ledger recorded for it.
type Info struct {
	Version       version.Version       `json:"version"`
	Description   string                `json:"description"`
	Type          Type                  `json:"type"`
	Script        string                `json:"script,omitempty"`
	InstalledOn   *time.Time            `json:"installedOn,omitempty"`
	ExecutionTime time.Duration         `json:"executionTime,omitempty"`
	State         State                 `json:"state"`
}
