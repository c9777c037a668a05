package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/storage/storetest"
)

func openTestStore(t *testing.T, path string) *Store {
	logger, err := log.NewLogger("kvstore-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.NoError(t, err)
	store, err := Open(logger, path, DefaultOpenTimeout)
	require.NoError(t, err)
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "sessions"))
	})
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions")
	ctx := context.Background()

	store := openTestStore(t, path)
	require.NoError(t, store.Save(ctx, "a", &storage.Snapshot{Phase: "commitment", Active: true, Data: []byte("a")}, 0))
	require.NoError(t, store.Save(ctx, "b", &storage.Snapshot{Phase: "completed", Data: []byte("b")}, 0))
	require.NoError(t, store.Close())

	store = openTestStore(t, path)
	defer store.Close()

	snap, err := store.Load(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.Version)
	require.Equal(t, []byte("a"), snap.Data)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)
}

// faultyDB fails writes to keys under a prefix.
type faultyDB struct {
	database
	failPut    string
	failDelete string
}

var errInjected = errors.New("injected write failure")

func (f *faultyDB) Put(key []byte, value []byte) error {
	if f.failPut != "" && strings.HasPrefix(string(key), f.failPut) {
		return errInjected
	}
	return f.database.Put(key, value)
}

func (f *faultyDB) Delete(key []byte) error {
	if f.failDelete != "" && strings.HasPrefix(string(key), f.failDelete) {
		return errInjected
	}
	return f.database.Delete(key)
}

func TestIndexWriteFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions"))
	defer store.Close()
	store.db = &faultyDB{database: store.db, failPut: activePrefix}

	err := store.Save(ctx, "a", &storage.Snapshot{Phase: "commitment", Active: true, Data: []byte("a")}, 0)
	require.ErrorIs(t, err, errInjected)

	_, err = store.Load(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The caller can retry with the same expected version.
	store.db = store.db.(*faultyDB).database
	require.NoError(t, store.Save(ctx, "a", &storage.Snapshot{Phase: "commitment", Active: true, Data: []byte("a")}, 0))
	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)
}

func TestListActivePrunesStaleIndex(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions"))
	defer store.Close()

	require.NoError(t, store.Save(ctx, "a", &storage.Snapshot{Phase: "commitment", Active: true}, 0))
	require.NoError(t, store.Save(ctx, "b", &storage.Snapshot{Phase: "commitment", Active: true}, 0))

	inner := store.db
	store.db = &faultyDB{database: inner, failDelete: activePrefix}
	require.NoError(t, store.Save(ctx, "a", &storage.Snapshot{Phase: "completed"}, 1))
	store.db = inner

	// The index entry for "a" survived the failed delete.
	raw, err := inner.Get(activeKey("a"))
	require.NoError(t, err)
	require.NotNil(t, raw)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)

	raw, err = inner.Get(activeKey("a"))
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestClosed(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Load(context.Background(), "a")
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestPreBackup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	for _, name := range []string{"lock", "main.pix", "index.pmt", "main.pix.bac.bac", "main.0000.psg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	store := &Store{path: dir, logger: log.NewDefaultLogger("kvstore-test")}
	store.preBackup()

	require.True(t, pathExists(filepath.Join(dir, "main.0000.psg")))
	require.True(t, pathExists(filepath.Join(dir, "lock")))
	require.False(t, pathExists(filepath.Join(dir, "main.pix")))
	require.False(t, pathExists(filepath.Join(dir, "main.pix.bac.bac")))
	require.True(t, pathExists(filepath.Join(dir+".backup", "main.pix")))
	require.True(t, pathExists(filepath.Join(dir+".backup", "index.pmt")))
}
