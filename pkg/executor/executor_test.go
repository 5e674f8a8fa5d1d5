// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaladder/schemaladder/pkg/migration"
	"github.com/schemaladder/schemaladder/pkg/version"
)

func resolved(v string) migration.ResolvedMigration {
	return migration.ResolvedMigration{Version: version.MustParse(v), Type: migration.TypeSQL}
}

func applied(v string, success bool) migration.AppliedMigration {
	return migration.AppliedMigration{Version: version.MustParse(v), Type: migration.TypeSQL, Success: success}
}

func TestPendingFreshInstall(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1"), resolved("2")}

	pending, warnings, err := Pending(catalog, nil, Options{Target: version.Latest})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, pending, 2)
	assert.Equal(t, "1", pending[0].Version.String())
	assert.Equal(t, "2", pending[1].Version.String())
}

func TestPendingSecondRunIsEmpty(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1"), resolved("2")}
	ledger := []migration.AppliedMigration{applied("1", true), applied("2", true)}

	pending, _, err := Pending(catalog, ledger, Options{Target: version.Latest})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingOutOfOrderRejectedByDefault(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("2")}
	ledger := []migration.AppliedMigration{applied("1", true), applied("3", true)}

	pending, warnings, err := Pending(catalog, ledger, Options{Target: version.Latest})
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "out-of-order")
}

func TestPendingOutOfOrderAllowed(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("2")}
	ledger := []migration.AppliedMigration{applied("1", true), applied("3", true)}

	pending, warnings, err := Pending(catalog, ledger, Options{Target: version.Latest, OutOfOrder: true})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].Version.String())
}

func TestPendingTargetCap(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1"), resolved("2"), resolved("3")}

	pending, _, err := Pending(catalog, nil, Options{Target: version.MustParse("2")})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "2", pending[1].Version.String())
}

func TestPendingFailedFutureHalts(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1")}
	ledger := []migration.AppliedMigration{applied("1", true), applied("5", false)}

	_, _, err := Pending(catalog, ledger, Options{Target: version.Latest})
	require.Error(t, err)
	var futureErr *migration.FailedFutureError
	require.ErrorAs(t, err, &futureErr)
	assert.Equal(t, "5", futureErr.Version.String())
}

func TestPendingIgnoreFailedFutureReturnsNone(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1")}
	ledger := []migration.AppliedMigration{applied("1", true), applied("5", false)}

	pending, warnings, err := Pending(catalog, ledger, Options{Target: version.Latest, IgnoreFailedFutureMigration: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, warnings, 1)
}

func TestPendingRefusesWhenPriorMigrationFailed(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1"), resolved("2")}
	ledger := []migration.AppliedMigration{applied("1", false)}

	_, _, err := Pending(catalog, ledger, Options{Target: version.Latest})
	require.Error(t, err)
	var unexpected *migration.UnexpectedStateError
	require.ErrorAs(t, err, &unexpected)
}

func TestPendingRefusesWhenPriorMigrationFailedEvenWithIgnoreFailedFuture(t *testing.T) {
	catalog := []migration.ResolvedMigration{resolved("1"), resolved("2")}
	ledger := []migration.AppliedMigration{applied("1", false)}

	_, _, err := Pending(catalog, ledger, Options{Target: version.Latest, IgnoreFailedFutureMigration: true})
	require.Error(t, err, "IgnoreFailedFutureMigration must not paper over a non-future failure")
	var unexpected *migration.UnexpectedStateError
	require.ErrorAs(t, err, &unexpected)
}

func TestHead(t *testing.T) {
	ledger := []migration.AppliedMigration{applied("1", true), applied("3", false), applied("2", true)}
	assert.Equal(t, "2", Head(ledger).String())
}

func TestHeadEmptyLedger(t *testing.T) {
	assert.True(t, Head(nil).IsEmpty())
}
