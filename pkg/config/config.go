// SPDX-License-Identifier: Apache-2.0

// Package config builds the single immutable configuration value the
// engine is constructed from. It replaces the deeply chained
// getters/setters with deprecated aliases that property-bag-driven
// migration tools tend to accumulate (spec §9): defaults and one
// overrides value (which the CLI fills from flags and environment
// variables) are merged exactly once, here, and the result is passed
// by value into the engine. The core
// never re-reads configuration afterward.
package config

import (
	"fmt"

	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/resolver"
)

// defaults mirrors the defaults table in spec §6.
const (
	DefaultTable               = "schema_version"
	DefaultSQLMigrationPrefix  = "V"
	DefaultSQLMigrationSuffix  = ".sql"
	DefaultPlaceholderPrefix   = "${"
	DefaultPlaceholderSuffix   = "}"
	DefaultEncoding            = "UTF-8"
	DefaultInitVersion         = "1"
	DefaultInitDescription     = "<< schemaladder Init >>"
)

// Config is the fully-resolved, immutable set of options the engine
// needs to run a command. Build one with New.
type Config struct {
	// DataSourceName is the driver-specific connection string used to
	// open both the metadata and user-objects connections.
	DataSourceName string

	Locations          []resolver.Location
	Encoding           string
	Schemas            []string
	Table              string
	Target             string
	Placeholders       resolver.Placeholders
	PlaceholderPrefix  string
	PlaceholderSuffix  string
	SQLMigrationPrefix string
	SQLMigrationSuffix string

	ValidateOnMigrate          bool
	CleanOnValidationError     bool
	InitVersion                string
	InitDescription            string
	InitOnMigrate              bool
	DisableInitCheck           bool
	IgnoreFailedFutureMigration bool
	OutOfOrder                 bool

	// CodeMigrations are host-registered programmatic migrations,
	// merged by the resolver with script-derived entries (spec §9,
	// replacing reflection-based code-migration discovery).
	CodeMigrations []resolver.CodeMigration
}

// New merges hard-coded defaults with the given overrides into one
// Config value. Overrides that are zero-valued keep the default.
// Warnings are non-fatal notices about the merged result (e.g. a
// deprecated option set alongside its replacement); they never affect
// cfg itself.
func New(overrides Config) (cfg Config, warnings []string, err error) {
	cfg = overrides

	if cfg.DataSourceName == "" {
		return Config{}, nil, &migration.ConfigError{Reason: "no data source configured"}
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultEncoding
	}
	if cfg.SQLMigrationPrefix == "" {
		cfg.SQLMigrationPrefix = DefaultSQLMigrationPrefix
	}
	if cfg.SQLMigrationSuffix == "" {
		cfg.SQLMigrationSuffix = DefaultSQLMigrationSuffix
	}
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = DefaultPlaceholderPrefix
	}
	if cfg.PlaceholderSuffix == "" {
		cfg.PlaceholderSuffix = DefaultPlaceholderSuffix
	}
	if cfg.InitVersion == "" {
		cfg.InitVersion = DefaultInitVersion
	}
	if cfg.InitDescription == "" {
		cfg.InitDescription = DefaultInitDescription
	}

	// initOnMigrate is authoritative over the deprecated
	// disableInitCheck when both are set (spec §9 open question); we
	// warn rather than fail so existing property files keep working.
	if cfg.DisableInitCheck && cfg.InitOnMigrate {
		warnings = append(warnings, fmt.Sprintf(
			"both initOnMigrate and the deprecated disableInitCheck are set; initOnMigrate takes precedence"))
	}

	return cfg, warnings, nil
}
