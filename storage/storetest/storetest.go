// Package storetest contains a conformance suite for storage.SessionStore
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.SessionStore

// Run runs every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, newStore(t)) })
	t.Run("CreateAndUpdate", func(t *testing.T) { testCreateAndUpdate(t, newStore(t)) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, newStore(t)) })
	t.Run("ListActive", func(t *testing.T) { testListActive(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newStore(t)) })
}

func snapshot(data string, active bool) *storage.Snapshot {
	phase := "completed"
	if active {
		phase = "commitment"
	}
	return &storage.Snapshot{Phase: phase, Active: active, Data: []byte(data)}
}

func testLoadMissing(t *testing.T, store storage.SessionStore) {
	defer store.Close()

	_, err := store.Load(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateAndUpdate(t *testing.T, store storage.SessionStore) {
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", snapshot("v1", true), 0))
	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), loaded.Version)
	require.Equal(t, []byte("v1"), loaded.Data)
	require.True(t, loaded.Active)
	require.Equal(t, "commitment", loaded.Phase)

	// Mutating the loaded copy does not touch the stored one.
	loaded.Data[0] = 'X'

	require.NoError(t, store.Save(ctx, "s1", snapshot("v2", false), 1))
	loaded, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), loaded.Version)
	require.Equal(t, []byte("v2"), loaded.Data)
	require.False(t, loaded.Active)
}

func testVersionConflict(t *testing.T, store storage.SessionStore) {
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", snapshot("v1", true), 0))

	// Creating twice conflicts.
	err := store.Save(ctx, "s1", snapshot("other", true), 0)
	require.ErrorIs(t, err, storage.ErrVersionConflict)

	// Stale and future versions conflict.
	require.NoError(t, store.Save(ctx, "s1", snapshot("v2", true), 1))
	require.ErrorIs(t, store.Save(ctx, "s1", snapshot("stale", true), 1), storage.ErrVersionConflict)
	require.ErrorIs(t, store.Save(ctx, "s1", snapshot("future", true), 7), storage.ErrVersionConflict)

	// Updating a missing session conflicts.
	require.ErrorIs(t, store.Save(ctx, "missing", snapshot("x", true), 3), storage.ErrVersionConflict)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), loaded.Version)
	require.Equal(t, []byte("v2"), loaded.Data)
}

func testListActive(t *testing.T, store storage.SessionStore) {
	defer store.Close()
	ctx := context.Background()

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, store.Save(ctx, "a", snapshot("a", true), 0))
	require.NoError(t, store.Save(ctx, "b", snapshot("b", true), 0))
	require.NoError(t, store.Save(ctx, "c", snapshot("c", false), 0))

	ids, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)

	// Sessions leave the active set once they become terminal.
	require.NoError(t, store.Save(ctx, "a", snapshot("a2", false), 1))
	ids, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b"}, ids)
}

func testList(t *testing.T, store storage.SessionStore) {
	defer store.Close()
	ctx := context.Background()

	ids, err := store.List(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	for _, id := range []string{"d", "b", "e", "a", "c"} {
		require.NoError(t, store.Save(ctx, id, snapshot(id, id != "c"), 0))
	}
	// Updates do not duplicate ids.
	require.NoError(t, store.Save(ctx, "a", snapshot("a2", false), 1))

	ids, err = store.List(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	ids, err = store.List(ctx, "b", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, ids)

	ids, err = store.List(ctx, "d", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"e"}, ids)

	ids, err = store.List(ctx, "e", 2)
	require.NoError(t, err)
	require.Empty(t, ids)

	// after need not be a stored id.
	ids, err = store.List(ctx, "bb", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "e"}, ids)
}

func testConcurrentSaves(t *testing.T, store storage.SessionStore) {
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", snapshot("v1", true), 0))

	// Writers racing on the same expected version: exactly one wins.
	const writers = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Save(ctx, "s1", snapshot(fmt.Sprintf("writer-%d", i), true), 1)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrVersionConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(writers-1), conflicts.Load())

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), loaded.Version)
}
