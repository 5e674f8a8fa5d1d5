// SPDX-License-Identifier: Apache-2.0

// Package engine is the façade exposing the commands a host (the CLI
// or an embedding program) drives: migrate, validate, clean, init,
// repair and info (spec §4.7). It owns connection acquisition and the
// per-command orchestration; the vendor adapter is supplied by the host
// and the engine does not choose one itself. The core subsystems
// (resolver, ledger, executor, info service) stay unaware of each
// other's commands.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/schemaladder/schemaladder/internal/applog"
	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/config"
	"github.com/schemaladder/schemaladder/pkg/executor"
	"github.com/schemaladder/schemaladder/pkg/info"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/resolver"
	"github.com/schemaladder/schemaladder/pkg/state"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// Engine dispatches commands against one configured data source.
type Engine struct {
	cfg     config.Config
	db      adapter.Database
	logger  applog.Logger
	cleaner adapter.Cleaner
}

// New builds an Engine. db is the vendor adapter selected by the host
// (the CLI picks it from the --driver flag; the engine never inspects
// the connection's product name/version); logger may be nil.
func New(cfg config.Config, db adapter.Database, logger applog.Logger) *Engine {
	if logger == nil {
		logger = applog.NewNoop()
	}
	return &Engine{cfg: cfg, db: db, logger: logger}
}

// SetCleaner installs the host-supplied Cleaner used both by the
// explicit Clean command and by Migrate's cleanOnValidationError path
// (spec §7). An Engine with no cleaner set fails cleanOnValidationError
// with the original validation error rather than silently skipping it.
func (e *Engine) SetCleaner(cleaner adapter.Cleaner) {
	e.cleaner = cleaner
}

// connections bundles the two roles every mutating command needs:
// connectionMetaDataTable for ledger reads/writes/locking and
// connectionUserObjects for migration DDL (spec §5). Both are always
// closed together, including on panic, by acquire's caller via Close.
type connections struct {
	metaDB   *sql.DB
	userDB   *sql.DB
	metaConn *sql.Conn
	userConn *sql.Conn
}

func (c *connections) Close() {
	if c.metaConn != nil {
		_ = c.metaConn.Close()
	}
	if c.userConn != nil {
		_ = c.userConn.Close()
	}
	if c.metaDB != nil {
		_ = c.metaDB.Close()
	}
	if c.userDB != nil {
		_ = c.userDB.Close()
	}
}

func (e *Engine) acquire(ctx context.Context) (*connections, error) {
	metaDB, err := e.db.Open(ctx, e.cfg.DataSourceName)
	if err != nil {
		return nil, &migration.ConfigError{Reason: fmt.Sprintf("opening metadata connection: %s", err)}
	}
	userDB, err := e.db.Open(ctx, e.cfg.DataSourceName)
	if err != nil {
		_ = metaDB.Close()
		return nil, &migration.ConfigError{Reason: fmt.Sprintf("opening user-objects connection: %s", err)}
	}

	metaConn, err := metaDB.Conn(ctx)
	if err != nil {
		_ = metaDB.Close()
		_ = userDB.Close()
		return nil, &migration.ConfigError{Reason: fmt.Sprintf("acquiring metadata connection: %s", err)}
	}
	userConn, err := userDB.Conn(ctx)
	if err != nil {
		_ = metaConn.Close()
		_ = metaDB.Close()
		_ = userDB.Close()
		return nil, &migration.ConfigError{Reason: fmt.Sprintf("acquiring user-objects connection: %s", err)}
	}

	return &connections{metaDB: metaDB, userDB: userDB, metaConn: metaConn, userConn: userConn}, nil
}

// resolveSchemas returns the configured schemas, falling back to the
// adapter's current schema when none were configured. The first schema
// is always the default and holds the ledger.
func (e *Engine) resolveSchemas(ctx context.Context, conn adapter.Conn) ([]string, error) {
	if len(e.cfg.Schemas) > 0 {
		return e.cfg.Schemas, nil
	}
	current, err := e.db.CurrentSchema(ctx, conn)
	if err != nil {
		return nil, &migration.LedgerUnavailableError{Err: err}
	}
	return []string{current}, nil
}

func (e *Engine) buildResolver() (*resolver.Resolver, error) {
	return resolver.New(resolver.Config{
		Locations:          e.cfg.Locations,
		SQLMigrationPrefix: e.cfg.SQLMigrationPrefix,
		SQLMigrationSuffix: e.cfg.SQLMigrationSuffix,
		Encoding:           e.cfg.Encoding,
		Placeholders:       e.cfg.Placeholders,
		PlaceholderPrefix:  e.cfg.PlaceholderPrefix,
		PlaceholderSuffix:  e.cfg.PlaceholderSuffix,
		CodeMigrations:     e.cfg.CodeMigrations,
		SplitStatements:    e.db.SplitStatements,
	}), nil
}

// ensureLedger creates the schemas and ledger table if they don't
// exist, recording a SCHEMA ledger row for any schema the engine
// itself created, and takes the cross-process lock for the duration
// of the command. Returns the unlock func, which must always run.
func (e *Engine) ensureLedger(ctx context.Context, conns *connections, schemas []string) (*state.MetadataTable, func(), error) {
	var created []string
	for _, schema := range schemas {
		exists, err := e.db.SchemaExists(ctx, conns.metaConn, schema)
		if err != nil {
			return nil, nil, &migration.LedgerUnavailableError{Err: err}
		}
		if !exists {
			if err := e.db.CreateSchema(ctx, conns.metaConn, schema); err != nil {
				return nil, nil, &migration.LedgerUnavailableError{Err: err}
			}
			created = append(created, schema)
		}
	}

	ledgerSchema := schemas[0]
	ledger := state.New(conns.metaConn, e.db, ledgerSchema, e.cfg.Table)

	if err := ledger.CreateIfNotExists(ctx); err != nil {
		return nil, nil, err
	}
	if len(created) > 0 {
		if err := ledger.SchemasCreated(ctx, created); err != nil {
			return nil, nil, err
		}
	}
	if err := ledger.Lock(ctx); err != nil {
		return nil, nil, err
	}

	unlock := func() { _ = ledger.Unlock(ctx) }
	return ledger, unlock, nil
}

// Migrate resolves the catalog, ensures the ledger exists, optionally
// validates and/or initializes, and applies every pending migration up
// to the configured target (spec §4.7 step 5).
func (e *Engine) Migrate(ctx context.Context) (int, error) {
	conns, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return 0, err
	}

	res, err := e.buildResolver()
	if err != nil {
		return 0, err
	}
	catalog, warnings, err := res.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		e.logger.Warn(w.Message)
	}

	ledgerExists, err := e.ledgerExists(ctx, conns, schemas)
	if err != nil {
		return 0, err
	}

	ledger, unlock, err := e.ensureLedger(ctx, conns, schemas)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if !ledgerExists && e.cfg.InitOnMigrate {
		nonEmpty, err := e.schemaHasObjects(ctx, conns, schemas[0])
		if err != nil {
			return 0, err
		}
		if nonEmpty {
			v, perr := version.Parse(e.cfg.InitVersion)
			if perr != nil {
				return 0, &migration.ConfigError{Reason: fmt.Sprintf("invalid initVersion: %s", perr)}
			}
			if err := ledger.Init(ctx, v, e.cfg.InitDescription); err != nil {
				return 0, err
			}
			e.logger.Info("initialized baseline", "version", v.String())
		}
	}

	if e.cfg.ValidateOnMigrate {
		if err := e.validateAgainst(catalog, ledger, ctx); err != nil {
			if e.cfg.CleanOnValidationError && e.cleaner != nil {
				e.logger.Warn("validation failed; cleaning configured schemas", "error", err.Error())
				if cleanErr := e.cleaner.Clean(ctx, conns.userConn, schemas); cleanErr != nil {
					return 0, &migration.LedgerUnavailableError{Err: cleanErr}
				}
				return 0, nil
			}
			return 0, err
		}
	}

	target := version.Latest
	if e.cfg.Target != "" {
		target, err = version.Parse(e.cfg.Target)
		if err != nil {
			return 0, &migration.ConfigError{Reason: fmt.Sprintf("invalid target: %s", err)}
		}
	}

	exec := executor.New(e.db, ledger, e.logger)
	return exec.Migrate(ctx, catalog, conns.userConn, executor.Options{
		Target:                      target,
		OutOfOrder:                  e.cfg.OutOfOrder,
		IgnoreFailedFutureMigration: e.cfg.IgnoreFailedFutureMigration,
		InstalledBy:                 installedBy(),
	})
}

// Validate reports drift between the resolved catalog and the ledger.
func (e *Engine) Validate(ctx context.Context) error {
	conns, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return err
	}
	ledger := state.New(conns.metaConn, e.db, schemas[0], e.cfg.Table)

	res, err := e.buildResolver()
	if err != nil {
		return err
	}
	catalog, _, err := res.Resolve(ctx)
	if err != nil {
		return err
	}

	return e.validateAgainst(catalog, ledger, ctx)
}

func (e *Engine) validateAgainst(catalog []migration.ResolvedMigration, ledger *state.MetadataTable, ctx context.Context) error {
	svc, err := info.Load(ctx, catalog, ledger)
	if err != nil {
		return err
	}
	return svc.Validate()
}

// Init records a synthetic baseline row. Fails if the ledger already
// has entries.
func (e *Engine) Init(ctx context.Context) error {
	conns, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return err
	}
	ledger, unlock, err := e.ensureLedger(ctx, conns, schemas)
	if err != nil {
		return err
	}
	defer unlock()

	v, err := version.Parse(e.cfg.InitVersion)
	if err != nil {
		return &migration.ConfigError{Reason: fmt.Sprintf("invalid initVersion: %s", err)}
	}
	return ledger.Init(ctx, v, e.cfg.InitDescription)
}

// Repair restores ledger invariants after a failed migration, and
// reconciles checksums against the current catalog.
func (e *Engine) Repair(ctx context.Context) error {
	conns, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return err
	}
	ledger, unlock, err := e.ensureLedger(ctx, conns, schemas)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ledger.Repair(ctx); err != nil {
		return err
	}

	res, err := e.buildResolver()
	if err != nil {
		return err
	}
	catalog, _, err := res.Resolve(ctx)
	if err != nil {
		return err
	}
	applied, err := ledger.AllApplied(ctx)
	if err != nil {
		return err
	}
	byVersion := map[string]migration.ResolvedMigration{}
	for _, m := range catalog {
		byVersion[m.Version.String()] = m
	}
	for _, am := range applied {
		if !am.Success {
			continue
		}
		resolved, ok := byVersion[am.Version.String()]
		if !ok {
			continue
		}
		newChecksum, err := resolved.Checksum.Get()
		if err != nil {
			continue
		}
		oldChecksum, err := am.Checksum.Get()
		if err == nil && oldChecksum == newChecksum {
			continue
		}
		if err := ledger.UpdateChecksum(ctx, am.Version, newChecksum); err != nil {
			return err
		}
	}
	return nil
}

// Clean delegates to the host-supplied Cleaner, the external
// collaborator that drops every user object from the configured
// schemas (spec §1, §4.7). The engine never implements this itself.
// cleaner overrides the one installed by SetCleaner when non-nil.
func (e *Engine) Clean(ctx context.Context, cleaner adapter.Cleaner) error {
	if cleaner == nil {
		cleaner = e.cleaner
	}
	if cleaner == nil {
		return &migration.ConfigError{Reason: "clean: no Cleaner configured"}
	}

	conns, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return err
	}
	ledger, unlock, err := e.ensureLedger(ctx, conns, schemas)
	if err != nil {
		return err
	}
	defer unlock()
	_ = ledger

	return cleaner.Clean(ctx, conns.userConn, schemas)
}

// Info returns the full joined status view.
func (e *Engine) Info(ctx context.Context) ([]migration.Info, error) {
	conns, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conns.Close()

	schemas, err := e.resolveSchemas(ctx, conns.metaConn)
	if err != nil {
		return nil, err
	}
	ledger := state.New(conns.metaConn, e.db, schemas[0], e.cfg.Table)

	res, err := e.buildResolver()
	if err != nil {
		return nil, err
	}
	catalog, _, err := res.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := info.Load(ctx, catalog, ledger)
	if err != nil {
		return nil, err
	}
	return svc.All(), nil
}

func (e *Engine) ledgerExists(ctx context.Context, conns *connections, schemas []string) (bool, error) {
	exists, err := e.db.SchemaExists(ctx, conns.metaConn, schemas[0])
	if err != nil || !exists {
		return false, nil
	}
	ledger := state.New(conns.metaConn, e.db, schemas[0], e.cfg.Table)
	return ledger.Exists(ctx)
}

func (e *Engine) schemaHasObjects(ctx context.Context, conns *connections, schema string) (bool, error) {
	var count int
	err := conns.metaConn.QueryRowContext(ctx, e.db.Rebind(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?"), schema).Scan(&count)
	if err != nil {
		return false, &migration.LedgerUnavailableError{Err: err}
	}
	return count > 0, nil
}

func installedBy() string {
	return "schemaladder"
}
