// Package storage defines storage interfaces.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist in the store.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Save when the stored version differs
	// from the expected one.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Snapshot is a serialized session together with the metadata the store
// needs to index it.
type Snapshot struct {
	// Version is the stored version. Set by Load; ignored by Save.
	Version uint64
	// Phase is the session's phase name, kept for inspection.
	Phase string
	// Active is true while the session can still change through deadlines.
	// Active sessions are returned by ListActive.
	Active bool
	// Data is the encoded session.
	Data []byte
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Data = append([]byte(nil), s.Data...)
	return &c
}

// SessionStore persists session snapshots with optimistic concurrency.
type SessionStore interface {
	// Load returns the latest snapshot of a session, or ErrNotFound.
	Load(ctx context.Context, id string) (*Snapshot, error)

	// Save writes a snapshot if the stored version equals expectedVersion,
	// and bumps the stored version to expectedVersion+1. An expectedVersion
	// of 0 creates the session, failing if it already exists. Mismatches
	// fail with ErrVersionConflict and leave the store unchanged.
	Save(ctx context.Context, id string, snapshot *Snapshot, expectedVersion uint64) error

	// ListActive returns the ids of all active sessions.
	ListActive(ctx context.Context) ([]string, error)

	// List returns up to limit session ids greater than after, in
	// ascending order. Pass the last id of a page as after to fetch the
	// next one. limit must be positive.
	List(ctx context.Context, after string, limit int) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// ConflictError wraps ErrVersionConflict with the versions involved.
type ConflictError struct {
	ID       string
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: expected version %d, stored version %d: %v", e.ID, e.Expected, e.Actual, ErrVersionConflict)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// CheckVersion returns a ConflictError unless expected matches the stored
// version. A missing session has version 0.
func CheckVersion(id string, expected, actual uint64) error {
	if expected != actual {
		return &ConflictError{ID: id, Expected: expected, Actual: actual}
	}
	return nil
}
