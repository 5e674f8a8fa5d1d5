// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schemaladder/schemaladder/cmd/flags"
	"github.com/schemaladder/schemaladder/internal/applog"
	"github.com/schemaladder/schemaladder/internal/connstr"
	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/adapter/mysql"
	"github.com/schemaladder/schemaladder/pkg/adapter/postgres"
	"github.com/schemaladder/schemaladder/pkg/config"
	"github.com/schemaladder/schemaladder/pkg/engine"
	"github.com/schemaladder/schemaladder/pkg/resolver"
)

// Version is the schemaladder build version, set by the release build.
var Version = "development"

var rootCmd = &cobra.Command{
	Use:          "schemaladder",
	Short:        "A versioned database schema migration engine",
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	flags.Bind(rootCmd)
}

// Prepare assembles the full command tree without running it, so
// tooling (see tools/build-cli-definition.go) can introspect it.
func Prepare() *cobra.Command {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(cleanCmd())
	return rootCmd
}

// Execute executes the root command.
func Execute() error {
	return Prepare().Execute()
}

// buildEngine assembles the Engine from the bound flags: it picks the
// database adapter by driver name, turns each --locations entry into a
// filesystem-backed resolver.Location, and merges everything through
// config.New exactly once (spec §9 re-architecture note).
func buildEngine(ctx context.Context) (*engine.Engine, error) {
	db, err := selectAdapter(flags.Driver())
	if err != nil {
		return nil, err
	}

	var locations []resolver.Location
	for _, raw := range flags.Locations() {
		path := strings.TrimPrefix(raw, "filesystem:")
		locations = append(locations, resolver.NewFileLocation(os.DirFS(path), path))
	}

	dsn := flags.URL()
	schemas := flags.Schemas()
	if flags.Driver() == "postgres" && len(schemas) > 0 {
		// Scope the connection's search_path to the default managed
		// schema, so scripts that reference unqualified table names
		// resolve the way the developer intended.
		scoped, err := connstr.AppendSearchPathOption(dsn, schemas[0])
		if err != nil {
			return nil, err
		}
		dsn = scoped
	}

	cfg, warnings, err := config.New(config.Config{
		DataSourceName:              dsn,
		Locations:                   locations,
		Encoding:                    flags.Encoding(),
		Schemas:                     schemas,
		Table:                       flags.Table(),
		Target:                      flags.Target(),
		Placeholders:                resolver.Placeholders(flags.Placeholders()),
		PlaceholderPrefix:           flags.PlaceholderPrefix(),
		PlaceholderSuffix:           flags.PlaceholderSuffix(),
		SQLMigrationPrefix:          flags.SQLMigrationPrefix(),
		SQLMigrationSuffix:          flags.SQLMigrationSuffix(),
		ValidateOnMigrate:           flags.ValidateOnMigrate(),
		CleanOnValidationError:      flags.CleanOnValidationError(),
		InitVersion:                 flags.InitVersion(),
		InitDescription:             flags.InitDescription(),
		InitOnMigrate:               flags.InitOnMigrate(),
		DisableInitCheck:            flags.DisableInitCheck(),
		IgnoreFailedFutureMigration: flags.IgnoreFailedFutureMigration(),
		OutOfOrder:                  flags.OutOfOrder(),
	})
	if err != nil {
		return nil, err
	}

	logger := applog.New()
	for _, w := range warnings {
		logger.Warn(w)
	}

	eng := engine.New(cfg, db, logger)
	eng.SetCleaner(adapter.CleanerFunc(func(ctx context.Context, conn adapter.Conn, schemas []string) error {
		for _, schema := range schemas {
			if err := db.DropSchemaContents(ctx, conn, schema); err != nil {
				return err
			}
		}
		return nil
	}))
	return eng, nil
}

func selectAdapter(driver string) (adapter.Database, error) {
	switch driver {
	case "postgres", "":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q: expected postgres or mysql", driver)
	}
}
