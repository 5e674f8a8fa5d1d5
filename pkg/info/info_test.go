// SPDX-License-Identifier: Apache-2.0

package info

import (
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

func resolved(v, desc string, checksum int32) migration.ResolvedMigration {
	return migration.ResolvedMigration{
		Version:     version.MustParse(v),
		Description: desc,
		Type:        migration.TypeSQL,
		Checksum:    nullable.NewNullableWithValue(checksum),
	}
}

func applied(v, desc string, checksum int32, success bool) migration.AppliedMigration {
	return migration.AppliedMigration{
		Version:     version.MustParse(v),
		Description: desc,
		Type:        migration.TypeSQL,
		Checksum:    nullable.NewNullableWithValue(checksum),
		Success:     success,
	}
}

func TestAllMarksPendingAndSuccess(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 1), resolved("2", "add users", 2)}
	applied := []migration.AppliedMigration{applied("1", "init", 1, true)}

	svc := New(catalog, applied)
	rows := svc.All()
	require.Len(t, rows, 2)
	assert.Equal(t, migration.StateSuccess, rows[0].State)
	assert.Equal(t, migration.StatePending, rows[1].State)
}

func TestAllMarksFuture(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 1)}
	ledger := []migration.AppliedMigration{
		applied("1", "init", 1, true),
		applied("2", "ghost", 2, true),
	}

	svc := New(catalog, ledger)
	rows := svc.All()
	require.Len(t, rows, 2)
	assert.Equal(t, migration.StateFuture, rows[1].State)
}

func TestAllMarksOutOfOrder(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("2", "add users", 2)}
	ledger := []migration.AppliedMigration{applied("3", "later", 3, true)}

	svc := New(catalog, ledger)
	rows := svc.All()
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.Version.String() == "2" {
			assert.Equal(t, migration.StateOutOfOrder, r.State)
		}
	}
}

func TestValidateChecksumMismatch(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 99)}
	ledger := []migration.AppliedMigration{applied("1", "init", 1, true)}

	svc := New(catalog, ledger)
	err := svc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestValidateClean(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 1)}
	ledger := []migration.AppliedMigration{applied("1", "init", 1, true)}

	svc := New(catalog, ledger)
	assert.NoError(t, svc.Validate())
}

func TestValidateMissingFromLedger(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 1), resolved("2", "add users", 2)}
	ledger := []migration.AppliedMigration{applied("2", "add users", 2, true)}

	svc := New(catalog, ledger)
	err := svc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1")
}

func TestCurrent(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1", "init", 1)}
	am := applied("1", "init", 1, true)
	am.Current = true
	ledger := []migration.AppliedMigration{am}

	svc := New(catalog, ledger)
	cur, ok := svc.Current()
	require.True(t, ok)
	assert.Equal(t, "1", cur.Version.String())
}
