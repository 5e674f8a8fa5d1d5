// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// defaultMySQLVersion is used when MYSQL_VERSION isn't set.
const defaultMySQLVersion = "8.0"

var (
	mysqlCtr     *mysql.MySQLContainer
	mysqlRootDSN string
)

// startMySQL starts the shared MySQL container used by
// SharedMySQLTestMain and SharedPostgresAndMySQLTestMain. Exits the
// process on failure, since there's no test to report to yet.
func startMySQL(ctx context.Context) {
	version := os.Getenv("MYSQL_VERSION")
	if version == "" {
		version = defaultMySQLVersion
	}

	ctr, err := mysql.RunContainer(ctx,
		testcontainers.WithImage("mysql:"+version),
		mysql.WithDatabase("root"),
		mysql.WithUsername("root"),
		mysql.WithPassword("test"),
	)
	if err != nil {
		os.Exit(1)
	}
	mysqlCtr = ctr

	dsn, err := ctr.ConnectionString(ctx)
	if err != nil {
		os.Exit(1)
	}
	mysqlRootDSN = dsn
}

func stopMySQL(ctx context.Context) {
	if mysqlCtr == nil {
		return
	}
	if err := mysqlCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate mysql container: %v", err)
	}
}

// SharedMySQLTestMain starts one MySQL container shared by every test
// in a package, mirroring SharedPostgresTestMain for the vendor that
// exercises the non-default adapter branches (pkg/adapter/mysql).
func SharedMySQLTestMain(m *testing.M) {
	ctx := context.Background()
	startMySQL(ctx)
	exitCode := m.Run()
	stopMySQL(ctx)
	os.Exit(exitCode)
}

// SharedPostgresAndMySQLTestMain starts both the shared postgres and
// MySQL containers for packages (such as pkg/state) whose tests exercise
// both vendor adapters against the same core logic.
func SharedPostgresAndMySQLTestMain(m *testing.M) {
	ctx := context.Background()
	startPostgres(ctx)
	startMySQL(ctx)
	exitCode := m.Run()
	stopMySQL(ctx)
	stopPostgres(ctx)
	os.Exit(exitCode)
}

// WithMySQLDatabase creates a fresh database inside the shared
// container and hands its DSN to fn, cleaning up after.
func WithMySQLDatabase(t *testing.T, fn func(dsn string)) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("mysql", mysqlRootDSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = admin.Close() })

	dbName := randomDBName()
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", dbName)); err != nil {
		t.Fatal(err)
	}

	cfg, err := mysqldriver.ParseDSN(mysqlRootDSN)
	if err != nil {
		t.Fatal(err)
	}
	cfg.DBName = dbName

	fn(cfg.FormatDSN())
}
