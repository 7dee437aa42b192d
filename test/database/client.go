// Package database provides a testcontainers-backed *database.Client for
// integration tests.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentorchestra/orchestra/pkg/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestClient returns a migrated database.Client.
// Uses CI_DATABASE_URL when set (CI service container), otherwise spins up
// a local testcontainer. Cleaned up automatically via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	ctx := context.Background()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		t.Log("using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
	}

	cfg := database.DefaultConfig(dsn)
	cfg.MaxOpenConns = 10
	cfg.MaxIdleConns = 5

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
