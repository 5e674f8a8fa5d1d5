// SPDX-License-Identifier: Apache-2.0

// Package adapter defines the database-vendor capability the core
// requires, as an external collaborator (spec §6): current-schema lookup
// and set, schema existence/create/drop, statement splitting, DDL
// transactional support and a cross-process lock primitive. Concrete
// vendor adapters (postgres, mysql) live in subpackages.
package adapter

import (
	"context"
	"database/sql"
)

// Conn is the minimal surface the core needs from a single connection. It
// is satisfied by *sql.Conn and by *sql.Tx, so migration executors and
// ledger operations don't need to know which one they were handed.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Database is the capability the core requires from a database vendor.
// Engine/Executor/MetadataTable are written entirely against this
// interface; they never issue vendor DDL directly.
type Database interface {
	// QuoteIdentifier quotes name as a vendor-correct SQL identifier.
	QuoteIdentifier(name string) string

	// Rebind rewrites a query written with "?" positional placeholders
	// into the vendor's native placeholder syntax (Postgres needs
	// "$1", "$2", ...; MySQL already uses "?" natively).
	Rebind(query string) string

	// Open opens and pings a connection pool for a single role (metadata
	// or user-objects); the engine pins one *sql.Conn from it for the
	// lifetime of one command.
	Open(ctx context.Context, dsn string) (*sql.DB, error)

	// CurrentSchema returns the schema that would be used if none is
	// configured.
	CurrentSchema(ctx context.Context, conn Conn) (string, error)

	// SchemaExists reports whether the named schema exists.
	SchemaExists(ctx context.Context, conn Conn, schema string) (bool, error)

	// CreateSchema creates the named schema if it doesn't already exist.
	CreateSchema(ctx context.Context, conn Conn, schema string) error

	// DropSchemaContents removes every user object inside the named
	// schema and leaves the schema present and empty. The postgres and
	// mysql adapters do this by dropping the schema and creating it
	// again, so privileges and ownership set on the schema itself are
	// not kept. Used by the `clean` external
	// collaborator; the core only calls this through a host-supplied
	// Cleaner (see Cleaner below), never directly.
	DropSchemaContents(ctx context.Context, conn Conn, schema string) error

	// SplitStatements splits a script's contents into individually
	// executable statements according to the vendor's delimiter rules.
	SplitStatements(script string) ([]string, error)

	// DDLTransactional reports whether DDL statements participate in
	// transactions on this vendor (true for Postgres, false for MySQL,
	// which implicitly commits DDL).
	DDLTransactional() bool

	// Lock acquires an exclusive, cross-process lock scoped to the given
	// ledger schema/table for the duration of the enclosing command. It
	// waits while another session holds the lock; an adapter may stop
	// waiting after a bounded time and return an error for which
	// IsLockWaitError reports true. The returned func releases
	// the lock; it must be called exactly once, when the command ends.
	// conn must be a single physical connection (*sql.Conn), not a
	// pooled *sql.DB, since session-scoped lock primitives only make
	// sense pinned to one connection.
	Lock(ctx context.Context, conn *sql.Conn, ledgerSchema, ledgerTable string) (unlock func(context.Context) error, err error)

	// IsLockWaitError reports whether err is this vendor's "someone else
	// holds this lock right now" error, as opposed to a genuine failure.
	// RetryableLock uses this to tell contention from real errors.
	IsLockWaitError(err error) bool
}

// Cleaner is the external collaborator spec §1 calls out: the concrete
// logic that drops every user object from a managed schema. The core
// never implements this itself; hosts inject an implementation (which
// typically delegates to the same Database.DropSchemaContents method).
type Cleaner interface {
	Clean(ctx context.Context, conn Conn, schemas []string) error
}

// CleanerFunc adapts a function to the Cleaner interface.
type CleanerFunc func(ctx context.Context, conn Conn, schemas []string) error

func (f CleanerFunc) Clean(ctx context.Context, conn Conn, schemas []string) error {
	return f(ctx, conn, schemas)
}
