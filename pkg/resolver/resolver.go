// SPDX-License-Identifier: Apache-2.0

// Package resolver discovers available migrations from developer-provided
// locations (script directories and host-registered code migrations) and
// assembles them into a canonical, version-sorted catalog (spec §4.3).
package resolver

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/oapi-codegen/nullable"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

// Location is one developer-provided migration source. FS is nil when
// the location's path doesn't exist on disk; that's a warning, not a
// fatal error (spec §4.3 edge cases).
type Location struct {
	Path string
	FS   fs.FS
}

// NewFileLocation builds a Location backed by a real directory, leaving
// FS nil if the directory doesn't exist.
func NewFileLocation(dirFS fs.FS, path string) Location {
	if dirFS == nil {
		return Location{Path: path}
	}
	if _, err := fs.Stat(dirFS, "."); err != nil {
		return Location{Path: path}
	}
	return Location{Path: path, FS: dirFS}
}

// CodeMigration is a host-registered programmatic migration, merged into
// the catalog alongside script-derived entries rather than discovered via
// reflection/classpath scanning (spec §9 re-architecture note).
type CodeMigration struct {
	Version     version.Version
	Description string
	Script      string
	Checksum    nullable.Nullable[int32]
	Run         func(ctx context.Context, conn adapter.Conn) error
}

// Placeholders maps a placeholder name to its substitution value.
type Placeholders map[string]string

// Config configures a single resolution pass.
type Config struct {
	Locations          []Location
	SQLMigrationPrefix string
	SQLMigrationSuffix string
	Encoding           string
	Placeholders       Placeholders
	PlaceholderPrefix  string
	PlaceholderSuffix  string
	CodeMigrations     []CodeMigration
	SplitStatements    func(script string) ([]string, error)
}

// Warning is a non-fatal condition surfaced during resolution, e.g. a
// configured location that doesn't exist.
type Warning struct {
	Message string
}

// Resolver discovers available migrations and assembles the catalog.
type Resolver struct {
	cfg Config
}

// New builds a Resolver from cfg, applying documented defaults for any
// zero-valued prefix/suffix/encoding fields.
func New(cfg Config) *Resolver {
	if cfg.SQLMigrationPrefix == "" {
		cfg.SQLMigrationPrefix = "V"
	}
	if cfg.SQLMigrationSuffix == "" {
		cfg.SQLMigrationSuffix = ".sql"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "UTF-8"
	}
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = "${"
	}
	if cfg.PlaceholderSuffix == "" {
		cfg.PlaceholderSuffix = "}"
	}
	return &Resolver{cfg: cfg}
}

var nameSplit = "__"

// Resolve scans every location, parses candidates, merges in registered
// code migrations, and returns the sorted, duplicate-checked catalog.
func (r *Resolver) Resolve(ctx context.Context) ([]migration.ResolvedMigration, []Warning, error) {
	var warnings []Warning
	var resolved []migration.ResolvedMigration

	pattern, err := r.candidatePattern()
	if err != nil {
		return nil, nil, &migration.ConfigError{Reason: err.Error()}
	}

	for _, loc := range r.cfg.Locations {
		if loc.FS == nil {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("location %q does not exist", loc.Path)})
			continue
		}

		entries, err := fs.ReadDir(loc.FS, ".")
		if err != nil {
			return nil, nil, &migration.ResolveError{Script: loc.Path, Err: err}
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			match := pattern.FindStringSubmatch(name)
			if match == nil {
				continue
			}

			m, err := r.resolveScript(loc, name, match)
			if err != nil {
				return nil, nil, err
			}
			resolved = append(resolved, *m)
		}
	}

	for _, cm := range r.cfg.CodeMigrations {
		resolved = append(resolved, migration.ResolvedMigration{
			Version:     cm.Version,
			Description: cm.Description,
			Type:        migration.TypeCode,
			Script:      cm.Script,
			Checksum:    cm.Checksum,
			Executor:    codeExecutor{run: cm.Run},
		})
	}

	if err := checkDuplicates(resolved); err != nil {
		return nil, nil, err
	}

	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].Version.Less(resolved[j].Version)
	})

	return resolved, warnings, nil
}

func (r *Resolver) candidatePattern() (*regexp.Regexp, error) {
	prefix := regexp.QuoteMeta(r.cfg.SQLMigrationPrefix)
	suffix := regexp.QuoteMeta(r.cfg.SQLMigrationSuffix)
	return regexp.Compile("^" + prefix + `([0-9._]+)` + nameSplit + `(.*)` + suffix + "$")
}

func (r *Resolver) resolveScript(loc Location, name string, match []string) (*migration.ResolvedMigration, error) {
	versionPart, descriptionPart := match[1], match[2]

	v, err := version.Parse(versionPart)
	if err != nil {
		return nil, &migration.ResolveError{Script: name, Err: err}
	}

	description := strings.ReplaceAll(descriptionPart, "_", " ")

	raw, err := fs.ReadFile(loc.FS, name)
	if err != nil {
		return nil, &migration.ResolveError{Script: name, Err: err}
	}

	decoded, err := decode(raw, r.cfg.Encoding)
	if err != nil {
		return nil, &migration.ResolveError{Script: name, Err: err}
	}

	normalized := normalizeLineEndings(decoded)

	// Checksum is computed on the normalized script before placeholder
	// substitution (see SPEC_FULL.md §6): the checksum identifies the
	// migration itself, not a particular environment's resolved values.
	checksum := int32(crc32.ChecksumIEEE([]byte(normalized)))

	split := r.cfg.SplitStatements
	if split == nil {
		split = func(s string) ([]string, error) { return []string{s}, nil }
	}

	return &migration.ResolvedMigration{
		Version:     v,
		Description: description,
		Type:        migration.TypeSQL,
		Script:      name,
		Checksum:    nullable.NewNullableWithValue(checksum),
		Executor: sqlExecutor{
			script:            normalized,
			name:              name,
			placeholders:      r.cfg.Placeholders,
			placeholderPrefix: r.cfg.PlaceholderPrefix,
			placeholderSuffix: r.cfg.PlaceholderSuffix,
			split:             split,
		},
	}, nil
}

func checkDuplicates(resolved []migration.ResolvedMigration) error {
	seen := make(map[string]string, len(resolved))
	for _, m := range resolved {
		key := m.Version.String()
		if existing, ok := seen[key]; ok {
			return &migration.DuplicateVersionError{Version: m.Version, First: existing, Second: m.Script}
		}
		seen[key] = m.Script
	}
	return nil
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

func decode(raw []byte, encodingName string) (string, error) {
	if strings.EqualFold(encodingName, "UTF-8") || strings.EqualFold(encodingName, "UTF8") {
		return string(raw), nil
	}

	enc, err := ianaindex.IANA.Encoding(encodingName)
	if err != nil || enc == nil {
		return "", fmt.Errorf("unknown encoding %q", encodingName)
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decoding as %s: %w", encodingName, err)
	}
	return string(decoded), nil
}
