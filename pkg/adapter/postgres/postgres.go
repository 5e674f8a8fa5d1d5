// SPDX-License-Identifier: Apache-2.0

// Package postgres implements adapter.Database for PostgreSQL, using
// lib/pq for connection handling and identifier quoting, and
// pg_query_go for statement splitting.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/lib/pq"
	pgq "github.com/xataio/pg_query_go/v6"

	"github.com/schemaladder/schemaladder/pkg/adapter"
)

const lockNotAvailableErrorCode pq.ErrorCode = "55P03"

// Database is the Postgres implementation of adapter.Database.
type Database struct{}

// New returns a Postgres adapter.Database.
func New() *Database { return &Database{} }

func (d *Database) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// Rebind rewrites "?" placeholders into Postgres's "$1", "$2", ... form.
func (d *Database) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Database) CurrentSchema(ctx context.Context, conn adapter.Conn) (string, error) {
	var schema string
	err := conn.QueryRowContext(ctx, "SELECT current_schema()").Scan(&schema)
	return schema, err
}

func (d *Database) SchemaExists(ctx context.Context, conn adapter.Conn, schema string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schema).Scan(&exists)
	return exists, err
}

func (d *Database) CreateSchema(ctx context.Context, conn adapter.Conn, schema string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema)))
	return err
}

func (d *Database) DropSchemaContents(ctx context.Context, conn adapter.Conn, schema string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", pq.QuoteIdentifier(schema)))
	if err != nil {
		return err
	}
	return d.CreateSchema(ctx, conn, schema)
}

// SplitStatements parses script with the real Postgres grammar and slices
// it into one string per top-level statement, using each parsed
// statement's source-text span. This is more robust than splitting on
// ";" because it correctly handles semicolons inside string literals,
// dollar-quoted function bodies and comments.
func (d *Database) SplitStatements(script string) ([]string, error) {
	tree, err := pgq.Parse(script)
	if err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}

	statements := make([]string, 0, len(tree.Stmts))
	for _, raw := range tree.Stmts {
		start := int(raw.StmtLocation)
		length := int(raw.StmtLen)
		if length <= 0 {
			// StmtLen is 0 for the final statement in a script; it runs
			// to the end of the input.
			length = len(script) - start
		}
		end := start + length
		if start < 0 || end > len(script) || start > end {
			return nil, errors.New("malformed statement span returned by SQL parser")
		}

		stmt := script[start:end]
		// Trim leading separators/whitespace left over from the previous
		// statement's terminator.
		for len(stmt) > 0 && (stmt[0] == ';' || stmt[0] == '\n' || stmt[0] == '\t' || stmt[0] == ' ') {
			stmt = stmt[1:]
		}
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}

	return statements, nil
}

func (d *Database) DDLTransactional() bool { return true }

// Lock acquires a session-scoped Postgres advisory lock keyed on the
// ledger schema+table name, so that distinct managed schemas don't
// contend on the same lock. The lock survives across the multiple
// independent transactions a single migrate command opens on the
// metadata connection (spec §4.5 keeps metadata writes in their own
// transaction per applied migration); it is released by the returned
// unlock func, and as a fallback when the connection is closed.
func (d *Database) Lock(ctx context.Context, conn *sql.Conn, ledgerSchema, ledgerTable string) (func(context.Context) error, error) {
	key := lockKey(ledgerSchema, ledgerTable)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return nil, err
	}

	unlock := func(ctx context.Context) error {
		_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)
		return err
	}
	return unlock, nil
}

// IsLockWaitError reports whether err is a Postgres "lock not available"
// error, the error code returned when NOWAIT-style statements can't
// immediately acquire a lock.
func (d *Database) IsLockWaitError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == lockNotAvailableErrorCode
	}
	return false
}

func lockKey(schema, table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(schema + "." + table))
	// Mask to fit in a signed 63-bit range accepted by pg_advisory_lock.
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
