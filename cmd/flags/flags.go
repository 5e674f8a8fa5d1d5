// SPDX-License-Identifier: Apache-2.0

// Package flags binds the full configuration surface (spec §6) to
// cobra persistent flags and viper, so every subcommand reads options
// the same way regardless of whether they came from a flag or an
// environment variable (SCHEMALADDER_*). No config file is read.
package flags

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Bind registers every recognized option as a persistent flag on cmd
// and binds it into viper under the SCHEMALADDER_ environment prefix.
func Bind(cmd *cobra.Command) {
	viper.SetEnvPrefix("SCHEMALADDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	f := cmd.PersistentFlags()
	f.String("url", "", "Database connection string (driver-specific DSN)")
	f.String("driver", "postgres", "Database driver: postgres or mysql")
	f.StringSlice("locations", []string{"filesystem:migrations"}, "Migration script locations")
	f.String("schemas", "", "Comma-separated managed schemas; first is the default and holds the ledger")
	f.String("table", "schema_version", "Ledger table name")
	f.String("target", "latest", "Version to migrate to, or \"latest\"")
	f.String("encoding", "UTF-8", "Migration script charset")
	f.String("sql-migration-prefix", "V", "SQL migration filename prefix")
	f.String("sql-migration-suffix", ".sql", "SQL migration filename suffix")
	f.String("placeholder-prefix", "${", "Placeholder token prefix")
	f.String("placeholder-suffix", "}", "Placeholder token suffix")
	f.StringToString("placeholders", nil, "name=value placeholder substitutions")
	f.Bool("validate-on-migrate", false, "Validate the catalog against the ledger before migrating")
	f.Bool("clean-on-validation-error", false, "Clean the configured schemas if validate-on-migrate fails")
	f.String("init-version", "1", "Baseline version used by init / initOnMigrate")
	f.String("init-description", "<< schemaladder Init >>", "Baseline description used by init / initOnMigrate")
	f.Bool("init-on-migrate", false, "Baseline a non-empty schema automatically before migrating")
	f.Bool("disable-init-check", false, "Deprecated alias; initOnMigrate takes precedence when both are set")
	f.Bool("ignore-failed-future-migration", false, "Ignore a failed ledger row above the catalog's max version")
	f.Bool("out-of-order", false, "Allow applying migrations below the current head")

	for _, name := range []string{
		"url", "driver", "locations", "schemas", "table", "target", "encoding",
		"sql-migration-prefix", "sql-migration-suffix", "placeholder-prefix", "placeholder-suffix",
		"placeholders", "validate-on-migrate", "clean-on-validation-error",
		"init-version", "init-description", "init-on-migrate", "disable-init-check",
		"ignore-failed-future-migration", "out-of-order",
	} {
		_ = viper.BindPFlag(envKey(name), f.Lookup(name))
	}
}

func envKey(flagName string) string {
	return strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func URL() string              { return viper.GetString(envKey("url")) }
func Driver() string           { return viper.GetString(envKey("driver")) }
func Locations() []string      { return viper.GetStringSlice(envKey("locations")) }
func Table() string            { return viper.GetString(envKey("table")) }
func Target() string           { return viper.GetString(envKey("target")) }
func Encoding() string         { return viper.GetString(envKey("encoding")) }
func SQLMigrationPrefix() string { return viper.GetString(envKey("sql-migration-prefix")) }
func SQLMigrationSuffix() string { return viper.GetString(envKey("sql-migration-suffix")) }
func PlaceholderPrefix() string  { return viper.GetString(envKey("placeholder-prefix")) }
func PlaceholderSuffix() string  { return viper.GetString(envKey("placeholder-suffix")) }
func Placeholders() map[string]string { return viper.GetStringMapString(envKey("placeholders")) }
func ValidateOnMigrate() bool     { return viper.GetBool(envKey("validate-on-migrate")) }
func CleanOnValidationError() bool { return viper.GetBool(envKey("clean-on-validation-error")) }
func InitVersion() string         { return viper.GetString(envKey("init-version")) }
func InitDescription() string     { return viper.GetString(envKey("init-description")) }
func InitOnMigrate() bool         { return viper.GetBool(envKey("init-on-migrate")) }
func DisableInitCheck() bool      { return viper.GetBool(envKey("disable-init-check")) }
func IgnoreFailedFutureMigration() bool { return viper.GetBool(envKey("ignore-failed-future-migration")) }
func OutOfOrder() bool            { return viper.GetBool(envKey("out-of-order")) }

// Schemas splits the comma-separated --schemas flag; empty input means
// "none configured", letting the engine fall back to the adapter's
// current schema.
func Schemas() []string {
	raw := viper.GetString(envKey("schemas"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
