// Package session implements the commit-reveal session state machine.
//
// A session moves through Created, Commitment, Reveal and Completed, or
// ends early in Cancelled. Transitions are evaluated lazily: every
// operation first advances the session to the phase that is due at the
// supplied time. All methods take the current time explicitly; a Session
// performs no I/O and is not safe for concurrent use.
package session

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oasisprotocol/fairdraw/commitment"
	"github.com/oasisprotocol/fairdraw/selection"
)

// Config describes a session to create.
type Config struct {
	Participants     []string
	Params           selection.Params
	CommitmentWindow time.Duration
	RevealWindow     time.Duration
	// Algorithm is the commitment algorithm; empty selects the default.
	Algorithm commitment.Algorithm
}

// Commitment is an accepted commitment.
type Commitment struct {
	ParticipantID string            `cbor:"participant_id"`
	Digest        commitment.Digest `cbor:"digest"`
	SubmittedAt   time.Time         `cbor:"submitted_at"`
}

// Reveal is an accepted reveal, verified against its commitment.
type Reveal struct {
	ParticipantID string    `cbor:"participant_id"`
	Value         []byte    `cbor:"value"`
	Salt          []byte    `cbor:"salt"`
	SubmittedAt   time.Time `cbor:"submitted_at"`
}

// RejectedReveal records a reveal that failed verification. Rejected
// reveals stay in the session so auditors can tell a failed reveal from
// a missing one.
type RejectedReveal struct {
	ParticipantID string    `cbor:"participant_id"`
	Value         []byte    `cbor:"value"`
	Salt          []byte    `cbor:"salt"`
	SubmittedAt   time.Time `cbor:"submitted_at"`
	Reason        string    `cbor:"reason"`
}

// Transition is an entry of the phase transition log.
type Transition struct {
	From   Phase     `cbor:"from"`
	To     Phase     `cbor:"to"`
	At     time.Time `cbor:"at"`
	Reason string    `cbor:"reason"`
}

// PhaseChange describes the effect of Advance.
type PhaseChange struct {
	From Phase
	To   Phase
}

// Changed reports whether the phase moved.
func (c PhaseChange) Changed() bool {
	return c.From != c.To
}

// Session is the state of one commit-reveal run.
type Session struct {
	ID                 string               `cbor:"id"`
	Participants       []string             `cbor:"participants"`
	Phase              Phase                `cbor:"phase"`
	Algorithm          commitment.Algorithm `cbor:"algorithm"`
	Params             selection.Params     `cbor:"params"`
	CreatedAt          time.Time            `cbor:"created_at"`
	CommitmentDeadline time.Time            `cbor:"commitment_deadline"`
	RevealDeadline     time.Time            `cbor:"reveal_deadline"`

	Commitments     map[string]Commitment `cbor:"commitments"`
	Reveals         map[string]Reveal     `cbor:"reveals"`
	RejectedReveals []RejectedReveal      `cbor:"rejected_reveals"`
	Transitions     []Transition          `cbor:"transitions"`

	Result       *Result    `cbor:"result"`
	CancelReason string     `cbor:"cancel_reason"`
	CancelledAt  *time.Time `cbor:"cancelled_at"`

	roster map[string]struct{}
	dirty  bool
}

// New creates a session whose commitment window opens at now.
func New(id string, cfg Config, now time.Time) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidConfig)
	}
	if len(cfg.Participants) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(cfg.Participants))
	for _, p := range cfg.Participants {
		if p == "" {
			return nil, fmt.Errorf("%w: empty participant id", ErrInvalidConfig)
		}
		if _, ok := seen[p]; ok {
			return nil, fmt.Errorf("%w: duplicate participant '%s'", ErrInvalidConfig, p)
		}
		seen[p] = struct{}{}
	}
	if cfg.CommitmentWindow <= 0 || cfg.RevealWindow <= 0 {
		return nil, fmt.Errorf("%w: commitment and reveal windows must be positive", ErrInvalidConfig)
	}
	if cfg.RevealWindow > math.MaxInt64-cfg.CommitmentWindow {
		return nil, fmt.Errorf("%w: commitment window %s plus reveal window %s overflows", ErrInvalidConfig, cfg.CommitmentWindow, cfg.RevealWindow)
	}
	alg, err := commitment.ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err = cfg.Params.Validate(len(cfg.Participants)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	now = normalize(now)
	commitmentDeadline := now.Add(cfg.CommitmentWindow)
	revealDeadline := now.Add(cfg.CommitmentWindow + cfg.RevealWindow)
	if !commitmentDeadline.After(now) || !revealDeadline.After(commitmentDeadline) {
		return nil, fmt.Errorf("%w: deadlines %s and %s not after %s", ErrInvalidConfig, commitmentDeadline, revealDeadline, now)
	}

	params := cfg.Params
	params.Tiers = append([]int(nil), cfg.Params.Tiers...)
	params.Weights = append([]selection.Weight(nil), cfg.Params.Weights...)

	s := &Session{
		ID:                 id,
		Participants:       append([]string(nil), cfg.Participants...),
		Phase:              PhaseCreated,
		Algorithm:          alg,
		Params:             params,
		CreatedAt:          now,
		CommitmentDeadline: commitmentDeadline,
		RevealDeadline:     revealDeadline,
		Commitments:        map[string]Commitment{},
		Reveals:            map[string]Reveal{},
		roster:             seen,
	}
	s.transition(PhaseCommitment, now, "session created")
	return s, nil
}

// Dirty reports whether the session changed since it was created, decoded
// or last marked clean.
func (s *Session) Dirty() bool {
	return s.dirty
}

// MarkClean resets the dirty flag, typically after persisting.
func (s *Session) MarkClean() {
	s.dirty = false
}

func (s *Session) inRoster(participantID string) bool {
	if s.roster == nil {
		s.roster = make(map[string]struct{}, len(s.Participants))
		for _, p := range s.Participants {
			s.roster[p] = struct{}{}
		}
	}
	_, ok := s.roster[participantID]
	return ok
}

func (s *Session) transition(to Phase, now time.Time, reason string) {
	if !canTransition(s.Phase, to) {
		return
	}
	s.Transitions = append(s.Transitions, Transition{From: s.Phase, To: to, At: now, Reason: reason})
	s.Phase = to
	s.dirty = true
}

// allCommittedRevealed reports whether every committed participant has a
// valid reveal. Vacuously true when nobody committed.
func (s *Session) allCommittedRevealed() bool {
	for p := range s.Commitments {
		if _, ok := s.Reveals[p]; !ok {
			return false
		}
	}
	return true
}

// Advance performs every transition that is due at now. Calling it again
// with the same time is a no-op, as is calling it on a terminal session.
func (s *Session) Advance(now time.Time) PhaseChange {
	now = normalize(now)
	change := PhaseChange{From: s.Phase}
	for {
		switch {
		case s.Phase == PhaseCreated:
			s.transition(PhaseCommitment, now, "session opened")
			continue
		case s.Phase == PhaseCommitment && !now.Before(s.CommitmentDeadline):
			s.transition(PhaseReveal, now, "commitment deadline passed")
			continue
		case s.Phase == PhaseCommitment && len(s.Commitments) == len(s.Participants):
			s.transition(PhaseReveal, now, "all participants committed")
			continue
		case s.Phase == PhaseReveal && !now.Before(s.RevealDeadline):
			s.complete(now, "reveal deadline passed")
			continue
		case s.Phase == PhaseReveal && s.allCommittedRevealed():
			s.complete(now, "all committed participants revealed")
			continue
		}
		change.To = s.Phase
		return change
	}
}

func (s *Session) complete(now time.Time, reason string) {
	result, err := ComputeResult(s.Participants, s.Params, s.sortedReveals(), now)
	if err != nil {
		result = Result{Status: ResultFailed, ComputedAt: now, Failure: err.Error()}
		reason = "result computation failed"
	}
	s.Result = &result
	s.transition(PhaseCompleted, now, reason)
}

func (s *Session) sortedReveals() []Reveal {
	reveals := make([]Reveal, 0, len(s.Reveals))
	for _, r := range s.Reveals {
		reveals = append(reveals, r)
	}
	sort.Slice(reveals, func(i, j int) bool {
		return reveals[i].ParticipantID < reveals[j].ParticipantID
	})
	return reveals
}

// Commit records a participant's commitment.
func (s *Session) Commit(participantID string, digest commitment.Digest, now time.Time) error {
	now = normalize(now)
	s.Advance(now)

	if !s.inRoster(participantID) {
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrUnknownParticipant}
	}
	if s.Phase != PhaseCommitment {
		return &PhaseError{SessionID: s.ID, Op: "commit", Expected: []Phase{PhaseCommitment}, Actual: s.Phase}
	}
	if _, ok := s.Commitments[participantID]; ok {
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrDuplicateCommitment}
	}

	s.Commitments[participantID] = Commitment{
		ParticipantID: participantID,
		Digest:        digest,
		SubmittedAt:   now,
	}
	s.dirty = true
	s.Advance(now)
	return nil
}

// Reveal records a participant's reveal. A reveal that does not open the
// participant's commitment is kept as a rejected reveal and reported as
// ErrCommitmentMismatch; the session is still modified in that case.
func (s *Session) Reveal(participantID string, value, salt []byte, now time.Time) error {
	now = normalize(now)
	s.Advance(now)

	if !s.inRoster(participantID) {
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrUnknownParticipant}
	}
	if s.Phase != PhaseReveal {
		return &PhaseError{SessionID: s.ID, Op: "reveal", Expected: []Phase{PhaseReveal}, Actual: s.Phase}
	}
	c, ok := s.Commitments[participantID]
	if !ok {
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrNoCommitment}
	}
	if _, ok = s.Reveals[participantID]; ok {
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrDuplicateReveal}
	}

	value = append([]byte{}, value...)
	salt = append([]byte{}, salt...)
	if !s.Algorithm.Verify(value, salt, c.Digest) {
		s.RejectedReveals = append(s.RejectedReveals, RejectedReveal{
			ParticipantID: participantID,
			Value:         value,
			Salt:          salt,
			SubmittedAt:   now,
			Reason:        ErrCommitmentMismatch.Error(),
		})
		s.dirty = true
		return &ParticipantError{SessionID: s.ID, ParticipantID: participantID, Err: ErrCommitmentMismatch}
	}

	s.Reveals[participantID] = Reveal{
		ParticipantID: participantID,
		Value:         value,
		Salt:          salt,
		SubmittedAt:   now,
	}
	s.dirty = true
	s.Advance(now)
	return nil
}

// Cancel ends the session without a result. Cancelling a terminal session
// fails with a PhaseError.
func (s *Session) Cancel(reason string, now time.Time) error {
	now = normalize(now)
	s.Advance(now)

	if s.Phase.Terminal() {
		return &PhaseError{
			SessionID: s.ID,
			Op:        "cancel",
			Expected:  []Phase{PhaseCreated, PhaseCommitment, PhaseReveal},
			Actual:    s.Phase,
		}
	}
	if reason == "" {
		reason = "cancelled"
	}
	s.CancelReason = reason
	s.CancelledAt = &now
	s.transition(PhaseCancelled, now, reason)
	return nil
}

// ResultView returns the session's result as seen by callers: Pending
// until the reveal phase closes, Cancelled after cancellation, otherwise
// the computed result.
func (s *Session) ResultView() Result {
	switch s.Phase {
	case PhaseCompleted:
		if s.Result != nil {
			return s.Result.clone()
		}
		return Result{Status: ResultPending}
	case PhaseCancelled:
		return Result{Status: ResultCancelled}
	default:
		return Result{Status: ResultPending}
	}
}

// View is a summary of a session without secret material.
type View struct {
	ID                 string               `json:"id"`
	Phase              Phase                `json:"phase"`
	Algorithm          commitment.Algorithm `json:"algorithm"`
	CreatedAt          time.Time            `json:"created_at"`
	CommitmentDeadline time.Time            `json:"commitment_deadline"`
	RevealDeadline     time.Time            `json:"reveal_deadline"`
	Participants       int                  `json:"participants"`
	Commitments        int                  `json:"commitments"`
	Reveals            int                  `json:"reveals"`
	RejectedReveals    int                  `json:"rejected_reveals"`
	ResultStatus       ResultStatus         `json:"result_status"`
}

// View returns the session summary.
func (s *Session) View() View {
	return View{
		ID:                 s.ID,
		Phase:              s.Phase,
		Algorithm:          s.Algorithm,
		CreatedAt:          s.CreatedAt,
		CommitmentDeadline: s.CommitmentDeadline,
		RevealDeadline:     s.RevealDeadline,
		Participants:       len(s.Participants),
		Commitments:        len(s.Commitments),
		Reveals:            len(s.Reveals),
		RejectedReveals:    len(s.RejectedReveals),
		ResultStatus:       s.ResultView().Status,
	}
}

func normalize(t time.Time) time.Time {
	return t.UTC().Round(0)
}
