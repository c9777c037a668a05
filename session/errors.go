package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig is returned when a session cannot be created from
	// the given configuration.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrUnknownParticipant is returned for participants outside the roster.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrDuplicateCommitment is returned when a participant commits twice.
	ErrDuplicateCommitment = errors.New("duplicate commitment")
	// ErrDuplicateReveal is returned when a participant with an accepted
	// reveal reveals again.
	ErrDuplicateReveal = errors.New("duplicate reveal")
	// ErrNoCommitment is returned for reveals without a prior commitment.
	ErrNoCommitment = errors.New("no commitment")
	// ErrCommitmentMismatch is returned when a reveal does not open the
	// stored commitment.
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	// ErrPhase is returned for operations attempted in the wrong phase.
	ErrPhase = errors.New("wrong phase")
	// ErrNoValidReveals marks a session that closed without any valid reveal.
	ErrNoValidReveals = errors.New("no valid reveals")
	// ErrResultFailed marks a session whose outcome could not be computed.
	ErrResultFailed = errors.New("result computation failed")
)

// PhaseError is returned when an operation is attempted outside the phase
// it requires.
type PhaseError struct {
	SessionID string
	Op        string
	Expected  []Phase
	Actual    Phase
}

func (e *PhaseError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, p := range e.Expected {
		expected[i] = p.String()
	}
	return fmt.Sprintf("session %s: %s requires phase %s, session is %s",
		e.SessionID, e.Op, strings.Join(expected, " or "), e.Actual)
}

func (e *PhaseError) Unwrap() error {
	return ErrPhase
}

// ParticipantError carries the participant a per-participant failure
// refers to.
type ParticipantError struct {
	SessionID     string
	ParticipantID string
	Err           error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("session %s: participant '%s': %v", e.SessionID, e.ParticipantID, e.Err)
}

func (e *ParticipantError) Unwrap() error {
	return e.Err
}
