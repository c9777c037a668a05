package storage

import (
	"context"
	"errors"

	"github.com/oasisprotocol/fairdraw/metrics"
)

// instrumentedStore records operation counts and latencies of a SessionStore.
type instrumentedStore struct {
	inner   SessionStore
	backend string
	metrics metrics.StorageMetrics
}

// Instrument wraps store so that every operation is recorded under the
// backend label.
func Instrument(store SessionStore, backend string, m metrics.StorageMetrics) SessionStore {
	return &instrumentedStore{inner: store, backend: backend, metrics: m}
}

func status(err error) string {
	switch {
	case err == nil:
		return metrics.StatusSuccess
	case errors.Is(err, ErrVersionConflict):
		return metrics.StatusConflict
	case errors.Is(err, ErrNotFound):
		return metrics.StatusNotFound
	default:
		return metrics.StatusFailure
	}
}

func (s *instrumentedStore) observe(operation string, err error) {
	s.metrics.StoreOperations(s.backend, operation, status(err)).Inc()
}

func (s *instrumentedStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	timer := s.metrics.StoreLatencies(s.backend, "load")
	defer timer.ObserveDuration()

	snap, err := s.inner.Load(ctx, id)
	s.observe("load", err)
	return snap, err
}

func (s *instrumentedStore) Save(ctx context.Context, id string, snapshot *Snapshot, expectedVersion uint64) error {
	timer := s.metrics.StoreLatencies(s.backend, "save")
	defer timer.ObserveDuration()

	err := s.inner.Save(ctx, id, snapshot, expectedVersion)
	s.observe("save", err)
	if err == nil {
		s.metrics.SnapshotBytes(s.backend).Observe(float64(len(snapshot.Data)))
	}
	return err
}

func (s *instrumentedStore) ListActive(ctx context.Context) ([]string, error) {
	timer := s.metrics.StoreLatencies(s.backend, "list_active")
	defer timer.ObserveDuration()

	ids, err := s.inner.ListActive(ctx)
	s.observe("list_active", err)
	return ids, err
}

func (s *instrumentedStore) List(ctx context.Context, after string, limit int) ([]string, error) {
	timer := s.metrics.StoreLatencies(s.backend, "list")
	defer timer.ObserveDuration()

	ids, err := s.inner.List(ctx, after, limit)
	s.observe("list", err)
	return ids, err
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}
