package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/storage/postgres"
	"github.com/oasisprotocol/fairdraw/storage/postgres/testutil"
	"github.com/oasisprotocol/fairdraw/storage/storetest"
)

func TestInvalidConnect(t *testing.T) {
	_, err := postgres.NewClient(context.Background(), "an invalid connstring", log.NewDefaultLogger("postgres-test"))
	require.NotNil(t, err)
}

func TestQuery(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	rows, err := client.Query(context.Background(), `
		SELECT * FROM ( VALUES (0),(1),(2) ) AS q;
	`)
	require.Nil(t, err)
	defer rows.Close()

	i := 0
	for rows.Next() {
		var result int
		require.Nil(t, rows.Scan(&result))
		require.Equal(t, i, result)
		i++
	}
	require.Equal(t, 3, i)
}

func TestInvalidQueryRow(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	var result int
	err := client.QueryRow(context.Background(), `
		an invalid query
	`).Scan(&result)
	require.NotNil(t, err)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return testutil.NewTestClient(t)
	})
}

func TestMigrateIdempotent(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	require.Nil(t, client.Migrate(context.Background(), ""))
}

func TestWipe(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()
	ctx := context.Background()

	require.Nil(t, client.Save(ctx, "s1", &storage.Snapshot{Phase: "commitment", Active: true, Data: []byte{1}}, 0))
	require.Nil(t, client.Wipe(ctx))
	require.Nil(t, client.Migrate(ctx, ""))

	_, err := client.Load(ctx, "s1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClosed(t *testing.T) {
	client := testutil.NewTestClient(t)
	require.Nil(t, client.Close())
	require.Nil(t, client.Close())

	_, err := client.Load(context.Background(), "s1")
	require.ErrorIs(t, err, storage.ErrClosed)
}
