// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"strings"

	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/migration"
)

// sqlExecutor implements migration.Executable for a script-based
// migration: substitute placeholders, split into statements using the
// database adapter's delimiter rules, and run each statement in order.
type sqlExecutor struct {
	script            string
	name              string
	placeholders      Placeholders
	placeholderPrefix string
	placeholderSuffix string
	split             func(script string) ([]string, error)
}

func (e sqlExecutor) Apply(ctx context.Context, conn adapter.Conn) error {
	substituted, err := e.substitutePlaceholders(e.script)
	if err != nil {
		return err
	}

	statements, err := e.split(substituted)
	if err != nil {
		return &migration.ResolveError{Script: e.name, Err: err}
	}

	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// substitutePlaceholders replaces every `<prefix><name><suffix>` token
// with its configured value. A token whose name isn't in the
// placeholder table is a PLACEHOLDER_UNRESOLVED error (spec §6).
func (e sqlExecutor) substitutePlaceholders(script string) (string, error) {
	prefix, suffix := e.placeholderPrefix, e.placeholderSuffix
	if prefix == "" || suffix == "" {
		return script, nil
	}

	var b strings.Builder
	rest := script
	for {
		start := strings.Index(rest, prefix)
		if start == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		afterPrefix := rest[start+len(prefix):]
		end := strings.Index(afterPrefix, suffix)
		if end == -1 {
			// No closing suffix found; treat the rest as literal text.
			b.WriteString(rest[start:])
			break
		}

		name := afterPrefix[:end]
		value, ok := e.placeholders[name]
		if !ok {
			return "", &migration.PlaceholderUnresolvedError{Script: e.name, Placeholder: name}
		}
		b.WriteString(value)

		rest = afterPrefix[end+len(suffix):]
	}

	return b.String(), nil
}

// codeExecutor implements migration.Executable for a host-registered
// programmatic migration.
type codeExecutor struct {
	run func(ctx context.Context, conn adapter.Conn) error
}

func (e codeExecutor) Apply(ctx context.Context, conn adapter.Conn) error {
	return e.run(ctx, conn)
}
