// Package testutil starts disposable infrastructure for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// IntegrationEnv must be set for tests that need Docker.
const IntegrationEnv = "RESERVOIR_INTEGRATION"

// PostgresDB is a shared PostgreSQL container for one test binary.
type PostgresDB struct {
	Container testcontainers.Container
	DB        *sqlx.DB
	ConnStr   string
}

var (
	sharedPG     *PostgresDB
	sharedPGOnce sync.Once
	sharedPGErr  error
)

// RequireIntegration skips the test unless integration tests are enabled.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires Docker)")
	}
	if os.Getenv(IntegrationEnv) == "" {
		t.Skipf("skipping integration test: set %s=1 to run", IntegrationEnv)
	}
}

// Postgres returns a PostgreSQL container shared by every test in the run.
// Tests isolate themselves with their own schemas.
func Postgres(t *testing.T) *PostgresDB {
	t.Helper()
	RequireIntegration(t)

	sharedPGOnce.Do(func() {
		sharedPG, sharedPGErr = startPostgres()
	})
	if sharedPGErr != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", sharedPGErr)
	}
	return sharedPG
}

func startPostgres() (*PostgresDB, error) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reservoir"),
		tcpostgres.WithUsername("reservoir"),
		tcpostgres.WithPassword("reservoir"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("run container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("connection string: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &PostgresDB{Container: container, DB: db, ConnStr: connStr}, nil
}
