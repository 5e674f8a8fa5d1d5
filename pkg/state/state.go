// SPDX-License-Identifier: Apache-2.0

// Package state implements the MetadataTable: the on-database ledger of
// applied migrations and the point of mutual exclusion between
// concurrent engine instances (spec §4.4).
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// lockTypeMarker is the migration type recorded on the sentinel row every
// ledger table is created with. It is never returned from AllApplied. No
// adapter locks this row: both pkg/adapter/postgres and pkg/adapter/mysql
// take a session-scoped named or advisory lock instead.
const lockTypeMarker = "LOCK"

const createTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	version_rank    INT,
	installed_rank  INT NOT NULL,
	version         VARCHAR(256),
	description     VARCHAR(512) NOT NULL,
	type            VARCHAR(32) NOT NULL,
	script          VARCHAR(1024),
	checksum        INT,
	installed_by    VARCHAR(256) NOT NULL,
	installed_on    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	execution_time  INT NOT NULL,
	success         BOOLEAN NOT NULL,
	current         BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (installed_rank)
)`

const insertSentinelDML = `
INSERT INTO %[1]s (installed_rank, version, description, type, installed_by, execution_time, success, current)
SELECT 0, '', 'schemaladder lock sentinel', '` + lockTypeMarker + `', '', 0, true, false
WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE installed_rank = 0)`

// MetadataTable is the ledger implementation on the database.
type MetadataTable struct {
	conn   *sql.Conn
	db     adapter.Database
	schema string
	table  string
	unlock func(context.Context) error
}

// New builds a MetadataTable bound to conn (the dedicated metadata
// connection for the enclosing command), the named ledger table inside
// schema, driven by the vendor adapter db.
func New(conn *sql.Conn, db adapter.Database, schema, table string) *MetadataTable {
	return &MetadataTable{conn: conn, db: db, schema: schema, table: table}
}

func (m *MetadataTable) qualifiedTable() string {
	return m.db.QuoteIdentifier(m.schema) + "." + m.db.QuoteIdentifier(m.table)
}

// Exists reports whether the ledger table has already been created.
func (m *MetadataTable) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := m.conn.QueryRowContext(ctx,
		m.db.Rebind("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)"),
		m.schema, m.table).Scan(&exists)
	if err != nil {
		return false, &migration.LedgerUnavailableError{Err: err}
	}
	return exists, nil
}

// CreateIfNotExists issues the DDL creating the ledger table, and its
// lock sentinel row. Idempotent.
func (m *MetadataTable) CreateIfNotExists(ctx context.Context) error {
	if err := m.db.CreateSchema(ctx, m.conn, m.schema); err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	if _, err := m.conn.ExecContext(ctx, fmt.Sprintf(createTableDDL, m.qualifiedTable())); err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	if _, err := m.conn.ExecContext(ctx, fmt.Sprintf(insertSentinelDML, m.qualifiedTable())); err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	return nil
}

// Lock acquires an exclusive cross-process lock over the ledger for the
// duration of the enclosing command, retrying with backoff while a
// second engine instance holds it (spec §5). Release with Unlock.
func (m *MetadataTable) Lock(ctx context.Context) error {
	var unlock func(context.Context) error
	err := adapter.RetryableLock(ctx, m.db.IsLockWaitError, func() error {
		u, err := m.db.Lock(ctx, m.conn, m.schema, m.table)
		if err != nil {
			return err
		}
		unlock = u
		return nil
	})
	if err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	m.unlock = unlock
	return nil
}

// Unlock releases the lock taken by Lock. Safe to call even if Lock was
// never called.
func (m *MetadataTable) Unlock(ctx context.Context) error {
	if m.unlock == nil {
		return nil
	}
	err := m.unlock(ctx)
	m.unlock = nil
	return err
}

// AllApplied returns every applied migration ordered by installed_rank,
// excluding the lock sentinel row.
func (m *MetadataTable) AllApplied(ctx context.Context) ([]migration.AppliedMigration, error) {
	rows, err := m.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
		       installed_by, installed_on, execution_time, success, current
		FROM %s
		WHERE type <> '%s'
		ORDER BY installed_rank`, m.qualifiedTable(), lockTypeMarker))
	if err != nil {
		return nil, &migration.LedgerUnavailableError{Err: err}
	}
	defer rows.Close()

	var result []migration.AppliedMigration
	for rows.Next() {
		am, err := scanApplied(rows)
		if err != nil {
			return nil, &migration.LedgerUnavailableError{Err: err}
		}
		result = append(result, am)
	}
	if err := rows.Err(); err != nil {
		return nil, &migration.LedgerUnavailableError{Err: err}
	}
	return result, nil
}

func scanApplied(rows *sql.Rows) (migration.AppliedMigration, error) {
	var (
		rank        int
		versionStr  string
		description string
		typ         string
		script      sql.NullString
		checksum    sql.NullInt32
		installedBy string
		installedOn time.Time
		executionMs int
		success     bool
		current     bool
	)

	if err := rows.Scan(&rank, &versionStr, &description, &typ, &script, &checksum,
		&installedBy, &installedOn, &executionMs, &success, &current); err != nil {
		return migration.AppliedMigration{}, err
	}

	v, err := version.Parse(versionStr)
	if err != nil {
		return migration.AppliedMigration{}, fmt.Errorf("parsing ledger version %q: %w", versionStr, err)
	}

	am := migration.AppliedMigration{
		InstalledRank: rank,
		Version:       v,
		Description:   description,
		Type:          migration.Type(typ),
		InstalledBy:   installedBy,
		InstalledOn:   installedOn,
		ExecutionTime: time.Duration(executionMs) * time.Millisecond,
		Success:       success,
		Current:       current,
	}
	if script.Valid {
		am.Script = nullable.NewNullableWithValue(script.String)
	}
	if checksum.Valid {
		am.Checksum = nullable.NewNullableWithValue(checksum.Int32)
	}
	return am, nil
}

// AddApplied inserts a new row recording an attempt to apply am and
// computes installed_rank = max(rank)+1, all in one transaction. A
// successful row is inserted with current=true and clears current on
// every prior row; a failed row is inserted with current=false and
// leaves the prior rows' current flags unchanged.
func (m *MetadataTable) AddApplied(ctx context.Context, am migration.AppliedMigration) (migration.AppliedMigration, error) {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return migration.AppliedMigration{}, &migration.LedgerUnavailableError{Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	var maxRank sql.NullInt64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(installed_rank) FROM %s", m.qualifiedTable())).
		Scan(&maxRank); err != nil {
		return migration.AppliedMigration{}, &migration.LedgerUnavailableError{Err: err}
	}
	rank := int(maxRank.Int64) + 1

	if am.Success {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET current = FALSE WHERE type <> '%s'",
			m.qualifiedTable(), lockTypeMarker)); err != nil {
			return migration.AppliedMigration{}, &migration.LedgerUnavailableError{Err: err}
		}
	}

	var script sql.NullString
	if v, err := am.Script.Get(); err == nil {
		script = sql.NullString{String: v, Valid: true}
	}
	var checksum sql.NullInt32
	if v, err := am.Checksum.Get(); err == nil {
		checksum = sql.NullInt32{Int32: v, Valid: true}
	}

	_, err = tx.ExecContext(ctx, m.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum,
		                 installed_by, execution_time, success, current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, m.qualifiedTable())),
		rank, am.Version.String(), am.Description, string(am.Type), script, checksum,
		am.InstalledBy, int(am.ExecutionTime.Milliseconds()), am.Success, am.Success)
	if err != nil {
		return migration.AppliedMigration{}, &migration.LedgerUnavailableError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return migration.AppliedMigration{}, &migration.LedgerUnavailableError{Err: err}
	}

	am.InstalledRank = rank
	am.Current = am.Success
	return am, nil
}

// Init inserts a synthetic INIT row at the given version, marking the
// baseline. Fails with UnexpectedStateError if the ledger is non-empty.
func (m *MetadataTable) Init(ctx context.Context, v version.Version, description string) error {
	applied, err := m.AllApplied(ctx)
	if err != nil {
		return err
	}
	if len(applied) != 0 {
		return &migration.UnexpectedStateError{Reason: "cannot init: schema history is not empty"}
	}

	_, err = m.AddApplied(ctx, migration.AppliedMigration{
		Version:     v,
		Description: description,
		Type:        migration.TypeInit,
		Success:     true,
	})
	return err
}

// SchemasCreated inserts a synthetic SCHEMA row recording that the engine
// itself created the named schemas, authorizing `clean` to drop them
// later.
func (m *MetadataTable) SchemasCreated(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := m.AddApplied(ctx, migration.AppliedMigration{
		Description: fmt.Sprintf("schemas created: %v", names),
		Type:        migration.TypeSchema,
		Success:     true,
	})
	return err
}

// Repair deletes every row with success=false, wherever it sits in the
// ledger (no failed row is kept behind as a repaired marker), and
// re-establishes the `current` invariant over the remaining rows.
func (m *MetadataTable) Repair(ctx context.Context) error {
	applied, err := m.AllApplied(ctx)
	if err != nil {
		return err
	}

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	for _, am := range applied {
		if !am.Success {
			if _, err := tx.ExecContext(ctx,
				m.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE installed_rank = ?", m.qualifiedTable())),
				am.InstalledRank); err != nil {
				return &migration.LedgerUnavailableError{Err: err}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET current = FALSE WHERE type <> '%s'",
		m.qualifiedTable(), lockTypeMarker)); err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET current = TRUE
		WHERE success = TRUE AND type <> '%[2]s' AND installed_rank = (
			SELECT MAX(installed_rank) FROM %[1]s WHERE success = TRUE AND type <> '%[2]s'
		)`, m.qualifiedTable(), lockTypeMarker)); err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}

	return tx.Commit()
}

// UpdateChecksum reconciles a resolved-migration checksum change for the
// applied row at v, used by repair when the ledger's recorded checksum
// no longer matches the catalog.
func (m *MetadataTable) UpdateChecksum(ctx context.Context, v version.Version, newChecksum int32) error {
	res, err := m.conn.ExecContext(ctx, m.db.Rebind(fmt.Sprintf(
		"UPDATE %s SET checksum = ? WHERE version = ?", m.qualifiedTable())),
		newChecksum, v.String())
	if err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &migration.LedgerUnavailableError{Err: err}
	}
	if n == 0 {
		return &migration.UnexpectedStateError{Reason: fmt.Sprintf("no ledger entry found for version %s", v)}
	}
	return nil
}

// ErrNoCurrent signals that the ledger has no row marked current. No
// function in this package returns it.
var ErrNoCurrent = errors.New("no current migration")
