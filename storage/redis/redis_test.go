package redis

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/storage/storetest"
)

var testPrefixCounter atomic.Int64

func newTestStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
	}
	addr := os.Getenv("CI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CI_TEST_REDIS_ADDR not set")
	}
	logger, err := log.NewLogger("redis-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := fmt.Sprintf("fairdraw-test-%d-%d:", os.Getpid(), testPrefixCounter.Add(1))
	store := New(client, prefix, logger)
	t.Cleanup(func() {
		cleanup := New(redis.NewClient(&redis.Options{Addr: addr}), prefix, logger)
		require.NoError(t, cleanup.Wipe(context.Background()))
		require.NoError(t, cleanup.Close())
	})
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return newTestStore(t)
	})
}

func TestClosed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Load(context.Background(), "a")
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestInvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "not a url", log.NewDefaultLogger("redis-test"))
	require.Error(t, err)
}
