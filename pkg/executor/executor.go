// SPDX-License-Identifier: Apache-2.0

// Package executor computes the pending set of migrations against the
// ledger, enforces ordering policy, and applies them with transactional
// and failure semantics appropriate to the database (spec §4.5).
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/schemaladder/schemaladder/internal/applog"
	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// Ledger is the subset of the MetadataTable the executor needs to read
// and append to. pkg/state.MetadataTable satisfies this.
type Ledger interface {
	AllApplied(ctx context.Context) ([]migration.AppliedMigration, error)
	AddApplied(ctx context.Context, am migration.AppliedMigration) (migration.AppliedMigration, error)
}

// Warning is a non-fatal notice surfaced during pending-set computation
// (an out-of-order migration skipped under strict ordering, or a failed
// future row ignored under the host's flag).
type Warning struct {
	Message string
}

// Options configures one Executor.Migrate invocation.
type Options struct {
	Target                      version.Version
	OutOfOrder                  bool
	IgnoreFailedFutureMigration bool
	InstalledBy                 string
}

// Executor applies pending migrations in order, recording the outcome
// of every attempt in the ledger.
type Executor struct {
	db     adapter.Database
	ledger Ledger
	logger applog.Logger
}

// New builds an Executor bound to the vendor adapter db and the
// ledger. logger may be applog.NewNoop() if the caller doesn't care.
func New(db adapter.Database, ledger Ledger, logger applog.Logger) *Executor {
	if logger == nil {
		logger = applog.NewNoop()
	}
	return &Executor{db: db, ledger: ledger, logger: logger}
}

// Head returns the highest version among ledger rows with success=true,
// or version.Empty if none.
func Head(applied []migration.AppliedMigration) version.Version {
	head := version.Empty
	for _, am := range applied {
		if am.Success && am.Version.Compare(head) > 0 {
			head = am.Version
		}
	}
	return head
}

// MaxCatalogVersion returns the highest version present in catalog, or
// version.Empty if catalog is empty.
func MaxCatalogVersion(catalog []migration.ResolvedMigration) version.Version {
	max := version.Empty
	for _, m := range catalog {
		if m.Version.Compare(max) > 0 {
			max = m.Version
		}
	}
	return max
}

// Pending computes the ordered set of resolved migrations that should
// be applied given the current ledger and opts, plus any warnings for
// migrations recovered locally rather than applied (spec §4.5 steps
// 1-4, §7 propagation policy).
func Pending(catalog []migration.ResolvedMigration, applied []migration.AppliedMigration, opts Options) ([]migration.ResolvedMigration, []Warning, error) {
	head := Head(applied)
	maxCatalog := MaxCatalogVersion(catalog)

	succeeded := make(map[string]bool, len(applied))
	for _, am := range applied {
		if am.Success {
			succeeded[am.Version.String()] = true
		}
	}

	// Detect FUTURE ledger entries: rows whose version exceeds the
	// maximum catalog version currently known.
	var failedFuture []migration.AppliedMigration
	var failedNonFuture []migration.AppliedMigration
	for _, am := range applied {
		if am.Type == migration.TypeSchema || am.Type == migration.TypeInit {
			continue
		}
		if am.Success {
			continue
		}
		if am.Version.Compare(maxCatalog) > 0 {
			failedFuture = append(failedFuture, am)
		} else {
			failedNonFuture = append(failedNonFuture, am)
		}
	}

	// A failed row at or below the highest catalog version halts further
	// installation outright (spec §3, §7): repair must run before any
	// subsequent migrate invocation is allowed to proceed.
	if len(failedNonFuture) > 0 {
		return nil, nil, &migration.UnexpectedStateError{
			Reason: fmt.Sprintf("migration %s failed and has not been repaired; run repair before migrating again", failedNonFuture[0].Version),
		}
	}

	if len(failedFuture) > 0 {
		if !opts.IgnoreFailedFutureMigration {
			return nil, nil, &migration.FailedFutureError{Version: failedFuture[0].Version}
		}
		return nil, []Warning{{Message: "ignoring failed future migration " + failedFuture[0].Version.String() + "; applying none"}}, nil
	}

	target := opts.Target
	if target.IsEmpty() {
		target = version.Latest
	}

	var warnings []Warning
	var pending []migration.ResolvedMigration
	for _, m := range catalog {
		if m.Version.Compare(target) > 0 {
			continue
		}
		if succeeded[m.Version.String()] {
			continue
		}
		if m.Version.Compare(head) > 0 {
			pending = append(pending, m)
			continue
		}
		// m.Version <= head: out-of-order candidate.
		if opts.OutOfOrder {
			pending = append(pending, m)
		} else {
			warnings = append(warnings, Warning{Message: "ignoring out-of-order migration " + m.Version.String()})
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version.Less(pending[j].Version)
	})
	return pending, warnings, nil
}

func scriptNullable(script string) nullable.Nullable[string] {
	return nullable.NewNullableWithValue(script)
}

// Migrate runs the application loop: each pending migration is applied
// against userConn, with the ledger (bound to its own metadata
// connection by the caller) updated in its own transaction after every
// attempt. It stops and returns MigrationFailed at the first failure;
// remaining migrations are not attempted.
func (e *Executor) Migrate(ctx context.Context, catalog []migration.ResolvedMigration, userConn *sql.Conn, opts Options) (int, error) {
	applied, err := e.ledger.AllApplied(ctx)
	if err != nil {
		return 0, err
	}

	pending, warnings, err := Pending(catalog, applied, opts)
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		e.logger.Warn(w.Message)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	applyCount := 0
	for _, m := range pending {
		e.logger.Info("applying migration", "version", m.Version.String(), "description", m.Description)

		start := time.Now()
		applyErr := e.applyOne(ctx, userConn, m)
		elapsed := time.Since(start)

		am := migration.AppliedMigration{
			Version:       m.Version,
			Description:   m.Description,
			Type:          m.Type,
			Checksum:      m.Checksum,
			ExecutionTime: elapsed,
			InstalledBy:   opts.InstalledBy,
			Success:       applyErr == nil,
		}
		if m.Type == migration.TypeSQL {
			am.Script = scriptNullable(m.Script)
		}

		if _, recErr := e.ledger.AddApplied(ctx, am); recErr != nil {
			return applyCount, &migration.LedgerUnavailableError{Err: recErr}
		}

		if applyErr != nil {
			e.logger.Error("migration failed", "version", m.Version.String(), "error", applyErr.Error())
			return applyCount, &migration.MigrationFailedError{Version: m.Version, Script: m.Script, Err: applyErr}
		}

		e.logger.Info("migration applied", "version", m.Version.String(), "duration", elapsed.String())
		applyCount++
	}

	return applyCount, nil
}

// applyOne runs a single migration's executor capability, wrapping it
// in a transaction on userConn when the adapter reports transactional
// DDL, and rolling back on failure.
func (e *Executor) applyOne(ctx context.Context, userConn *sql.Conn, m migration.ResolvedMigration) error {
	if !e.db.DDLTransactional() {
		return m.Executor.Apply(ctx, userConn)
	}

	tx, err := userConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := m.Executor.Apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
