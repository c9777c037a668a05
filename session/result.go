package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/oasisprotocol/fairdraw/randomness"
	"github.com/oasisprotocol/fairdraw/selection"
)

// ResultStatus is the status of a session's result.
type ResultStatus uint8

const (
	// ResultPending means the reveal phase has not closed yet.
	ResultPending ResultStatus = iota
	// ResultCompleted means a seed and outcome were computed.
	ResultCompleted
	// ResultCancelled means the session was cancelled; there is no result.
	ResultCancelled
	// ResultNoValidReveals means the reveal phase closed without a single
	// valid reveal. The round has to be re-run.
	ResultNoValidReveals
	// ResultFailed means the outcome could not be computed from the stored
	// parameters. Failure holds the reason.
	ResultFailed
)

func (s ResultStatus) String() string {
	switch s {
	case ResultPending:
		return "pending"
	case ResultCompleted:
		return "completed"
	case ResultCancelled:
		return "cancelled"
	case ResultNoValidReveals:
		return "no_valid_reveals"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ResultStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a closed session.
type Result struct {
	Status ResultStatus `cbor:"status" json:"status"`
	// FinalSeed and Outcome are set only for ResultCompleted.
	FinalSeed *randomness.Seed   `cbor:"final_seed" json:"final_seed,omitempty"`
	Outcome   *selection.Outcome `cbor:"outcome" json:"outcome,omitempty"`
	// Contributors are the participants whose reveals were combined, ascending.
	Contributors []string  `cbor:"contributors" json:"contributors,omitempty"`
	ComputedAt   time.Time `cbor:"computed_at" json:"computed_at,omitempty"`
	Failure      string    `cbor:"failure,omitempty" json:"failure,omitempty"`
}

// Err returns ErrNoValidReveals for a session that closed without valid
// reveals, and nil otherwise.
func (r Result) Err() error {
	switch r.Status {
	case ResultNoValidReveals:
		return ErrNoValidReveals
	case ResultFailed:
		return fmt.Errorf("%w: %s", ErrResultFailed, r.Failure)
	default:
		return nil
	}
}

func (r Result) clone() Result {
	c := r
	if r.FinalSeed != nil {
		seed := *r.FinalSeed
		c.FinalSeed = &seed
	}
	if r.Outcome != nil {
		outcome := *r.Outcome
		outcome.Winners = slices.Clone(r.Outcome.Winners)
		outcome.Tiers = nil
		offset := 0
		for _, tier := range r.Outcome.Tiers {
			outcome.Tiers = append(outcome.Tiers, outcome.Winners[offset:offset+len(tier)])
			offset += len(tier)
		}
		c.Outcome = &outcome
	}
	c.Contributors = slices.Clone(r.Contributors)
	return c
}

// ComputeResult derives a session result from its verified reveals. It is
// the same computation the state machine runs when the reveal phase
// closes, so any third party holding the published reveals can reproduce
// the result.
func ComputeResult(participants []string, params selection.Params, reveals []Reveal, now time.Time) (Result, error) {
	if len(reveals) == 0 {
		return Result{Status: ResultNoValidReveals, ComputedAt: normalize(now)}, nil
	}

	contributions := make([]randomness.Contribution, len(reveals))
	contributors := make([]string, len(reveals))
	for i, r := range reveals {
		contributions[i] = randomness.Contribution{ParticipantID: r.ParticipantID, Value: r.Value}
		contributors[i] = r.ParticipantID
	}
	slices.Sort(contributors)

	seed := randomness.Combine(contributions)
	outcome, err := selection.Select(seed, participants, params)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Status:       ResultCompleted,
		FinalSeed:    &seed,
		Outcome:      outcome,
		Contributors: contributors,
		ComputedAt:   normalize(now),
	}, nil
}

// VerificationReport is an audit of a session's stored record.
type VerificationReport struct {
	SessionID string `json:"session_id"`
	Phase     Phase  `json:"phase"`

	// Commitments accepted, and how many of the accepted reveals open them.
	Commitments     int      `json:"commitments"`
	VerifiedReveals int      `json:"verified_reveals"`
	FailedReveals   int      `json:"failed_reveals"`
	RejectedReveals int      `json:"rejected_reveals"`
	MissingReveals  []string `json:"missing_reveals,omitempty"`
	SeedVerified    bool     `json:"seed_verified"`
	OutcomeVerified bool     `json:"outcome_verified"`
	Issues          []string `json:"issues,omitempty"`
}

// Valid reports whether the audit found no issues.
func (r *VerificationReport) Valid() bool {
	return len(r.Issues) == 0
}

// Verify recomputes every accepted reveal against its commitment and, for
// completed sessions, recomputes the seed and outcome from the stored
// reveals.
func (s *Session) Verify() *VerificationReport {
	report := &VerificationReport{
		SessionID:       s.ID,
		Phase:           s.Phase,
		Commitments:     len(s.Commitments),
		RejectedReveals: len(s.RejectedReveals),
	}

	for _, r := range s.sortedReveals() {
		c, ok := s.Commitments[r.ParticipantID]
		switch {
		case !ok:
			report.FailedReveals++
			report.Issues = append(report.Issues, fmt.Sprintf("reveal by '%s' has no commitment", r.ParticipantID))
		case !s.Algorithm.Verify(r.Value, r.Salt, c.Digest):
			report.FailedReveals++
			report.Issues = append(report.Issues, fmt.Sprintf("reveal by '%s' does not open its commitment", r.ParticipantID))
		default:
			report.VerifiedReveals++
		}
	}
	for _, p := range s.Participants {
		if _, committed := s.Commitments[p]; !committed {
			continue
		}
		if _, revealed := s.Reveals[p]; !revealed {
			report.MissingReveals = append(report.MissingReveals, p)
		}
	}
	for _, r := range s.RejectedReveals {
		if c, ok := s.Commitments[r.ParticipantID]; ok && s.Algorithm.Verify(r.Value, r.Salt, c.Digest) {
			report.Issues = append(report.Issues, fmt.Sprintf("rejected reveal by '%s' opens its commitment", r.ParticipantID))
		}
	}

	if s.Phase != PhaseCompleted {
		return report
	}
	if s.Result == nil {
		report.Issues = append(report.Issues, "completed session has no result")
		return report
	}

	recomputed, err := ComputeResult(s.Participants, s.Params, s.sortedReveals(), s.Result.ComputedAt)
	if err != nil && s.Result.Status == ResultFailed {
		return report
	}
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("recomputing result: %v", err))
		return report
	}
	switch {
	case recomputed.Status != s.Result.Status:
		report.Issues = append(report.Issues, fmt.Sprintf("result status is %s, recomputed %s", s.Result.Status, recomputed.Status))
	case recomputed.Status == ResultNoValidReveals:
		report.SeedVerified = true
		report.OutcomeVerified = true
	default:
		report.SeedVerified = s.Result.FinalSeed != nil && *s.Result.FinalSeed == *recomputed.FinalSeed
		if !report.SeedVerified {
			report.Issues = append(report.Issues, "final seed does not match the stored reveals")
		}
		report.OutcomeVerified = s.Result.Outcome != nil &&
			s.Result.Outcome.Mode == recomputed.Outcome.Mode &&
			slices.Equal(s.Result.Outcome.Winners, recomputed.Outcome.Winners)
		if !report.OutcomeVerified {
			report.Issues = append(report.Issues, "outcome does not match the recomputed selection")
		}
	}
	return report
}
