// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// defaultPostgresVersion is used when POSTGRES_VERSION isn't set.
const defaultPostgresVersion = "15.3"

var (
	pgCtr     *postgres.PostgresContainer
	pgConnStr string
)

// startPostgres starts the shared postgres container used by
// SharedPostgresTestMain and SharedPostgresAndMySQLTestMain. Exits the
// process on failure, since there's no test to report to yet.
func startPostgres(ctx context.Context) {
	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}
	pgCtr = ctr

	pgConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}
}

func stopPostgres(ctx context.Context) {
	if pgCtr == nil {
		return
	}
	if err := pgCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate postgres container: %v", err)
	}
}

// SharedPostgresTestMain starts one postgres container shared by every
// test in a package; each test then creates its own database inside it
// with WithPostgresDatabase.
func SharedPostgresTestMain(m *testing.M) {
	ctx := context.Background()
	startPostgres(ctx)
	exitCode := m.Run()
	stopPostgres(ctx)
	os.Exit(exitCode)
}

// WithPostgresDatabase creates a fresh database inside the shared
// container and hands its connection string to fn, cleaning up after.
func WithPostgresDatabase(t *testing.T, fn func(connStr string)) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", pgConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = admin.Close() })

	dbName := randomDBName()
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(pgConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName

	fn(u.String())
}
