// Package kvstore implements a session store backed by an embedded pogreb
// key-value database.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/fxamacker/cbor/v2"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
)

const (
	moduleName = "kvstore"

	sessionPrefix = "session/"
	activePrefix  = "active/"

	// DefaultOpenTimeout is how long Open waits for pogreb to open the
	// database before continuing with the store unavailable.
	DefaultOpenTimeout = 30 * time.Second
)

// ErrNotInitialized is returned while the database is still being opened
// (or reindexed) in the background.
var ErrNotInitialized = errors.New("kvstore: not initialized yet")

// record is the stored form of a snapshot.
type record struct {
	Version uint64 `cbor:"version"`
	Phase   string `cbor:"phase"`
	Active  bool   `cbor:"active"`
	Data    []byte `cbor:"data"`
}

// database is the subset of *pogreb.DB the store uses.
type database interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	Items() *pogreb.ItemIterator
	Count() uint32
	Close() error
}

// Store is a storage.SessionStore on top of pogreb. Pogreb has no
// transactions, so compare-and-swap is serialized by a mutex; the store
// is safe for use by a single process only.
type Store struct {
	db database

	path   string
	logger *log.Logger

	// mu serializes writes. Reads go straight to pogreb.
	mu     sync.Mutex
	closed atomic.Bool

	// Set once the database is open. The database is opened in a
	// background goroutine because pogreb may reindex for a long time.
	initialized atomic.Bool
}

var _ storage.SessionStore = (*Store)(nil)

func sessionKey(id string) []byte { return []byte(sessionPrefix + id) }
func activeKey(id string) []byte  { return []byte(activePrefix + id) }

func (s *Store) check() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (s *Store) load(id string) (*record, error) {
	raw, err := s.db.Get(sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %s: %w", id, err)
	}
	if raw == nil {
		return nil, nil
	}
	var r record
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("kvstore: malformed record for %s: %w", id, err)
	}
	return &r, nil
}

// Load implements storage.SessionStore.
func (s *Store) Load(_ context.Context, id string) (*storage.Snapshot, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	r, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, storage.ErrNotFound
	}
	return &storage.Snapshot{Version: r.Version, Phase: r.Phase, Active: r.Active, Data: r.Data}, nil
}

// Save implements storage.SessionStore.
func (s *Store) Save(_ context.Context, id string, snapshot *storage.Snapshot, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	current, err := s.load(id)
	if err != nil {
		return err
	}
	var actual uint64
	if current != nil {
		actual = current.Version
	}
	if err = storage.CheckVersion(id, expectedVersion, actual); err != nil {
		return err
	}

	raw, err := cbor.Marshal(record{
		Version: expectedVersion + 1,
		Phase:   snapshot.Phase,
		Active:  snapshot.Active,
		Data:    snapshot.Data,
	})
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", id, err)
	}
	// The index entry is written before the record, so a committed active
	// session is always listed. Entries that outlive their session's active
	// phase are pruned by ListActive.
	if snapshot.Active {
		if err = s.db.Put(activeKey(id), []byte{1}); err != nil {
			return fmt.Errorf("kvstore: index %s: %w", id, err)
		}
	}
	if err = s.db.Put(sessionKey(id), raw); err != nil {
		return fmt.Errorf("kvstore: put %s: %w", id, err)
	}
	if !snapshot.Active && current != nil && current.Active {
		if err = s.db.Delete(activeKey(id)); err != nil {
			s.logger.Warn("failed to drop active index entry", "session_id", id, "err", err)
		}
	}
	return nil
}

// pruneStale drops the index entry of a session that is no longer active.
// The record is re-read under the write lock, so an entry written by a
// concurrent Save is never dropped.
func (s *Store) pruneStale(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.load(id)
	if err != nil || (r != nil && r.Active) {
		return
	}
	if err = s.db.Delete(activeKey(id)); err != nil {
		s.logger.Warn("failed to prune active index entry", "session_id", id, "err", err)
	}
}

// ListActive implements storage.SessionStore.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var candidates []string
	it := s.db.Items()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, _, err := it.Next()
		if errors.Is(err, pogreb.ErrIterationDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kvstore: iterate: %w", err)
		}
		if k := string(key); strings.HasPrefix(k, activePrefix) {
			candidates = append(candidates, strings.TrimPrefix(k, activePrefix))
		}
	}

	ids := []string{}
	for _, id := range candidates {
		r, err := s.load(id)
		if err != nil {
			return nil, err
		}
		if r == nil || !r.Active {
			s.pruneStale(id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// List implements storage.SessionStore. Pogreb iterates in hash order, so
// every call walks the whole database.
func (s *Store) List(ctx context.Context, after string, limit int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ids := []string{}
	it := s.db.Items()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, _, err := it.Next()
		if errors.Is(err, pogreb.ErrIterationDone) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kvstore: iterate: %w", err)
		}
		if k := string(key); strings.HasPrefix(k, sessionPrefix) {
			if id := strings.TrimPrefix(k, sessionPrefix); id > after {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Count returns the number of keys in the database.
func (s *Store) Count() uint32 {
	if s.check() != nil {
		return 0
	}
	return s.db.Count()
}

// Close implements storage.SessionStore.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	if !s.initialized.Load() {
		// An interrupted reindex starts over on the next open.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Returns files matching any pattern and none of the antipatterns.
func glob(patterns []string, antipatterns []string) ([]string, error) {
	files := map[string]struct{}{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			files[match] = struct{}{}
		}
	}
	for _, antipattern := range antipatterns {
		matches, err := filepath.Glob(antipattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			delete(files, match)
		}
	}
	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	return out, nil
}

func moveFiles(srcPatterns []string, srcAntipatterns []string, dst string) error {
	files, err := glob(srcPatterns, srcAntipatterns)
	if err != nil {
		return fmt.Errorf("unable to glob for files to move: %w", err)
	}
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return fmt.Errorf("unable to create destination directory %s: %w", dst, err)
	}
	for _, src := range files {
		target := filepath.Join(dst, filepath.Base(src))
		if err := os.Rename(src, target); err != nil {
			return fmt.Errorf("unable to move file %s to %s: %w", src, target, err)
		}
	}
	return nil
}

func deleteFiles(pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("unable to glob for files %s to delete: %w", pattern, err)
	}
	var lastErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			lastErr = fmt.Errorf("unable to delete file %s: %w", f, err)
		}
	}
	return lastErr
}

// preBackup keeps pogreb's index backups from piling up. Pogreb renames
// old indexes to <name>.bac on every reindex, so a crash loop grows
// .bac.bac.bac... names until the filesystem rejects them.
func (s *Store) preBackup() {
	backupDir := filepath.Join(filepath.Dir(s.path), filepath.Base(s.path)+".backup")
	if pathExists(filepath.Join(s.path, "lock")) {
		s.logger.Info("pogreb lock file found; preemptively backing up indexes", "path", s.path, "backup_path", backupDir)
		if !pathExists(backupDir) { // Keep the oldest backup.
			err := moveFiles(
				[]string{filepath.Join(s.path, "*")},
				[]string{
					filepath.Join(s.path, "*.psg"), // segments; these get reindexed
					filepath.Join(s.path, "lock"),
				},
				backupDir,
			)
			if err != nil {
				s.logger.Warn("failed to move pogreb index files to backup directory", "err", err, "path", s.path, "backup_path", backupDir)
			}
		}
	}
	if err := deleteFiles(filepath.Join(s.path, "*.bac.bac")); err != nil {
		s.logger.Warn("failed to delete excessively backed-up pogreb index files", "err", err)
	}
}

func (s *Store) init() error {
	s.preBackup()

	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	s.initialized.Store(true)
	s.logger.Info(fmt.Sprintf("KVStore has %d entries", db.Count()))
	return nil
}

// Open opens the database at path, creating it if needed. If pogreb takes
// longer than timeout (it reindexes after a crash), Open returns a store
// that reports ErrNotInitialized until the reindex finishes.
func Open(logger *log.Logger, path string, timeout time.Duration) (*Store, error) {
	store := &Store{
		logger: logger.WithModule(moduleName),
		path:   path,
	}

	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(timeout):
		// A failed background reindex is only logged; the store then stays
		// uninitialized.
		store.logger.Warn("KVStore initialization timed out, continuing while the database is reindexing in the background", "path", path)
		return store, nil
	}
}
