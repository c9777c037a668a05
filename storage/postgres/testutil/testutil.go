// Package testutil provides a PostgreSQL session store for CI tests.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage/postgres"
)

// SkipIfShort skips tests that need a database.
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
	}
	if os.Getenv("CI_TEST_CONN_STRING") == "" {
		t.Skip("CI_TEST_CONN_STRING not set")
	}
}

// NewTestClient returns a postgres client used in CI tests, connected to
// CI_TEST_CONN_STRING with a freshly migrated, empty schema.
func NewTestClient(t *testing.T) *postgres.Client {
	SkipIfShort(t)
	connString := os.Getenv("CI_TEST_CONN_STRING")
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	ctx := context.Background()
	client, err := postgres.NewClient(ctx, connString, logger)
	require.Nil(t, err, "postgres.NewClient")
	require.Nil(t, client.Wipe(ctx), "Wipe")
	require.Nil(t, client.Migrate(ctx, ""), "Migrate")
	return client
}
