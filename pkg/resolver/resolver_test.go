// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaladder/schemaladder/pkg/adapter"
	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

func mapLocation(files map[string]string) Location {
	mapFS := fstest.MapFS{}
	for name, contents := range files {
		mapFS[name] = &fstest.MapFile{Data: []byte(contents)}
	}
	return Location{Path: "mem", FS: mapFS}
}

func TestResolveOrdersByVersion(t *testing.T) {
	loc := mapLocation(map[string]string{
		"V2__add_users.sql":   "CREATE TABLE users (id int);",
		"V1__init_schema.sql": "CREATE TABLE foo (id int);",
	})

	r := New(Config{Locations: []Location{loc}})
	catalog, warnings, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, catalog, 2)
	assert.Equal(t, "1", catalog[0].Version.String())
	assert.Equal(t, "init schema", catalog[0].Description)
	assert.Equal(t, "2", catalog[1].Version.String())
	assert.Equal(t, "add users", catalog[1].Description)
}

func TestResolveRejectsDuplicateVersion(t *testing.T) {
	loc := mapLocation(map[string]string{
		"V1__first.sql":  "SELECT 1;",
		"V1_0__second.sql": "SELECT 2;",
	})

	r := New(Config{Locations: []Location{loc}})
	_, _, err := r.Resolve(context.Background())
	require.Error(t, err)
	var dup *migration.DuplicateVersionError
	require.ErrorAs(t, err, &dup)
}

func TestResolveRejectsUnparseableVersion(t *testing.T) {
	loc := mapLocation(map[string]string{
		"V.1__broken.sql": "SELECT 1;",
	})

	r := New(Config{Locations: []Location{loc}})
	_, _, err := r.Resolve(context.Background())
	require.Error(t, err)
	var resolveErr *migration.ResolveError
	require.ErrorAs(t, err, &resolveErr)
}

func TestResolveNonexistentLocationWarnsOnly(t *testing.T) {
	r := New(Config{Locations: []Location{{Path: "does/not/exist"}}})
	catalog, warnings, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, catalog)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "does/not/exist")
}

func TestResolveChecksumIsStableAndPreSubstitution(t *testing.T) {
	loc := mapLocation(map[string]string{
		"V1__init.sql": "CREATE TABLE ${tableName} (id int);",
	})

	r1 := New(Config{Locations: []Location{loc}, Placeholders: Placeholders{"tableName": "foo"}})
	c1, _, err := r1.Resolve(context.Background())
	require.NoError(t, err)

	r2 := New(Config{Locations: []Location{loc}, Placeholders: Placeholders{"tableName": "bar"}})
	c2, _, err := r2.Resolve(context.Background())
	require.NoError(t, err)

	cs1, err := c1[0].Checksum.Get()
	require.NoError(t, err)
	cs2, err := c2[0].Checksum.Get()
	require.NoError(t, err)
	assert.Equal(t, cs1, cs2, "checksum must be computed before placeholder substitution")
}

func TestCodeMigrationsAreMergedAndSorted(t *testing.T) {
	loc := mapLocation(map[string]string{
		"V1__init.sql": "SELECT 1;",
	})

	ran := false
	r := New(Config{
		Locations: []Location{loc},
		CodeMigrations: []CodeMigration{
			{
				Version:     version.MustParse("2"),
				Description: "seed data",
				Run: func(ctx context.Context, conn adapter.Conn) error {
					ran = true
					return nil
				},
			},
		},
	})

	catalog, _, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	assert.Equal(t, migration.TypeCode, catalog[1].Type)

	require.NoError(t, catalog[1].Executor.Apply(context.Background(), nil))
	assert.True(t, ran)
}
