package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/fairdraw/session"
	"github.com/oasisprotocol/fairdraw/storage"
)

// TransientError is returned when an operation could not be persisted:
// the store kept reporting version conflicts until the retry budget ran
// out, or the store itself failed. The caller may retry the operation.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Error kind names returned by Kind.
const (
	KindInvalidConfig       = "invalid_config"
	KindUnknownParticipant  = "unknown_participant"
	KindDuplicateCommitment = "duplicate_commitment"
	KindDuplicateReveal     = "duplicate_reveal"
	KindNoCommitment        = "no_commitment"
	KindCommitmentMismatch  = "commitment_mismatch"
	KindPhase               = "phase_error"
	KindNotFound            = "not_found"
	KindNoValidReveals      = "no_valid_reveals"
	KindResultFailed        = "result_failed"
	KindTransient           = "transient"
	KindCancelled           = "cancelled"
	KindInternal            = "internal"
)

// Kind maps an error returned by the Manager to a stable kind name for
// the transport layer. Returns "" for nil.
func Kind(err error) string {
	var transient *TransientError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &transient):
		return KindTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, session.ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, session.ErrUnknownParticipant):
		return KindUnknownParticipant
	case errors.Is(err, session.ErrDuplicateCommitment):
		return KindDuplicateCommitment
	case errors.Is(err, session.ErrDuplicateReveal):
		return KindDuplicateReveal
	case errors.Is(err, session.ErrNoCommitment):
		return KindNoCommitment
	case errors.Is(err, session.ErrCommitmentMismatch):
		return KindCommitmentMismatch
	case errors.Is(err, session.ErrPhase):
		return KindPhase
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, session.ErrNoValidReveals):
		return KindNoValidReveals
	case errors.Is(err, session.ErrResultFailed):
		return KindResultFailed
	case errors.Is(err, storage.ErrVersionConflict):
		return KindTransient
	default:
		return KindInternal
	}
}
