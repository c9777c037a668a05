package storage_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/metrics"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/storage/memory"
	"github.com/oasisprotocol/fairdraw/storage/storetest"
)

func TestInstrumentedConformance(t *testing.T) {
	m := metrics.NewDefaultStorageMetrics()
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return storage.Instrument(memory.New(), "memory-conformance", m)
	})
}

func TestInstrumentedCounts(t *testing.T) {
	m := metrics.NewDefaultStorageMetrics()
	store := storage.Instrument(memory.New(), "memory-counts", m)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Load(ctx, "x")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, store.Save(ctx, "x", &storage.Snapshot{Data: []byte("x")}, 0))
	require.ErrorIs(t, store.Save(ctx, "x", &storage.Snapshot{}, 0), storage.ErrVersionConflict)
	_, err = store.List(ctx, "", 10)
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations("memory-counts", "load", metrics.StatusNotFound)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations("memory-counts", "save", metrics.StatusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations("memory-counts", "save", metrics.StatusConflict)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations("memory-counts", "list", metrics.StatusSuccess)))
}

func TestCheckVersion(t *testing.T) {
	require.NoError(t, storage.CheckVersion("s", 3, 3))

	err := storage.CheckVersion("s", 2, 3)
	require.ErrorIs(t, err, storage.ErrVersionConflict)
	var conflict *storage.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, uint64(2), conflict.Expected)
	require.Equal(t, uint64(3), conflict.Actual)
}
