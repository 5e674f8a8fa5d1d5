// SPDX-License-Identifier: Apache-2.0

// Package mysql implements adapter.Database for MySQL. Unlike Postgres,
// DDL is never transactional here, so this adapter exercises the two
// non-default branches of the adapter capability: Lock uses MySQL's
// session-scoped GET_LOCK/RELEASE_LOCK named-lock primitive (pinned to
// the same *sql.Conn for its whole session, the same way a Postgres
// advisory lock is session-scoped), and DDLTransactional reports false.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/schemaladder/schemaladder/pkg/adapter"
)

const lockWaitTimeoutErrorNumber uint16 = 1205

// lockWaitTimeoutSeconds bounds a single GET_LOCK attempt; RetryableLock
// (pkg/adapter/retry.go) is what actually retries across contention, so
// this just keeps one attempt from blocking forever.
const lockWaitTimeoutSeconds = 10

// Database is the MySQL implementation of adapter.Database.
type Database struct{}

// New returns a MySQL adapter.Database.
func New() *Database { return &Database{} }

func (d *Database) QuoteIdentifier(name string) string {
	return quoteIdentifier(name)
}

// Rebind is a no-op: MySQL already uses "?" as its native placeholder.
func (d *Database) Rebind(query string) string {
	return query
}

func (d *Database) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("mysql", dsn)
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
	err := conn.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schema)
	return schema, err
}

func (d *Database) SchemaExists(ctx context.Context, conn adapter.Conn, schema string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = ?)",
		schema).Scan(&exists)
	return exists, err
}

func (d *Database) CreateSchema(ctx context.Context, conn adapter.Conn, schema string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdentifier(schema)))
	return err
}

func (d *Database) DropSchemaContents(ctx context.Context, conn adapter.Conn, schema string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP DATABASE %s", quoteIdentifier(schema)))
	if err != nil {
		return err
	}
	return d.CreateSchema(ctx, conn, schema)
}

// SplitStatements splits on top-level ";" terminators, honoring single
// and double quoted strings. MySQL migration scripts don't carry
// dollar-quoted bodies the way Postgres functions do, so this simpler
// scanner (rather than a full SQL parser) is sufficient for the vendor's
// actual delimiter rules.
func (d *Database) SplitStatements(script string) ([]string, error) {
	var statements []string
	var current strings.Builder
	var quote rune

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			current.WriteRune(r)
			if r == quote && (i == 0 || runes[i-1] != '\\') {
				quote = 0
			}
			continue
		}

		switch r {
		case '\'', '"', '`':
			quote = r
			current.WriteRune(r)
		case ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				statements = append(statements, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quoted string in script")
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}

	return statements, nil
}

func (d *Database) DDLTransactional() bool { return false }

// Lock acquires a session-scoped MySQL named lock via GET_LOCK, pinned
// to conn, keyed on the ledger schema+table name so distinct managed
// schemas don't contend on the same name. Unlike the earlier
// SELECT...FOR UPDATE-in-a-transaction approach, GET_LOCK survives the
// independent transactions a single migrate command opens on the
// metadata connection for every recorded migration (spec §4.5 keeps
// metadata writes in their own transaction per applied migration) —
// those BeginTx calls would otherwise implicitly commit (and so
// release) a lock held as an open transaction on the same *sql.Conn.
// It is released by the returned unlock func via RELEASE_LOCK.
func (d *Database) Lock(ctx context.Context, conn *sql.Conn, ledgerSchema, ledgerTable string) (func(context.Context) error, error) {
	name := lockName(ledgerSchema, ledgerTable)

	var acquired int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, lockWaitTimeoutSeconds).Scan(&acquired); err != nil {
		return nil, err
	}
	if acquired != 1 {
		return nil, &lockWaitError{name: name}
	}

	unlock := func(ctx context.Context) error {
		var released int
		return conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released)
	}
	return unlock, nil
}

// lockWaitError is returned when GET_LOCK times out without acquiring
// the lock, so RetryableLock (via IsLockWaitError) can tell contention
// apart from a genuine connection failure.
type lockWaitError struct{ name string }

func (e *lockWaitError) Error() string {
	return fmt.Sprintf("timed out waiting for named lock %q", e.name)
}

func lockName(schema, table string) string {
	return "schemaladder:" + schema + "." + table
}

// IsLockWaitError reports whether err is a MySQL lock-wait-timeout error
// (either a GET_LOCK timeout or the row-lock-wait-timeout MySQL raises
// for ordinary DML, kept here for defense in depth).
func (d *Database) IsLockWaitError(err error) bool {
	var lockErr *lockWaitError
	if errors.As(err, &lockErr) {
		return true
	}
	var mErr *mysqldriver.MySQLError
	if errors.As(err, &mErr) {
		return mErr.Number == lockWaitTimeoutErrorNumber
	}
	return false
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
