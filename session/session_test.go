package session

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/commitment"
	"github.com/oasisprotocol/fairdraw/randomness"
	"github.com/oasisprotocol/fairdraw/selection"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	commitWindow = 10 * time.Minute
	revealWindow = 10 * time.Minute
)

type secret struct {
	value []byte
	salt  []byte
}

func secretFor(p string) secret {
	return secret{
		value: []byte("value-of-" + p),
		salt:  []byte(fmt.Sprintf("salt-%s-0123456789", p)),
	}
}

func newSession(t *testing.T, participants []string, params selection.Params) *Session {
	s, err := New("session-1", Config{
		Participants:     participants,
		Params:           params,
		CommitmentWindow: commitWindow,
		RevealWindow:     revealWindow,
	}, t0)
	require.NoError(t, err)
	return s
}

func commitAll(t *testing.T, s *Session, at time.Time, participants ...string) {
	for _, p := range participants {
		sec := secretFor(p)
		require.NoError(t, s.Commit(p, commitment.Commit(sec.value, sec.salt), at))
	}
}

func revealAll(t *testing.T, s *Session, at time.Time, participants ...string) {
	for _, p := range participants {
		sec := secretFor(p)
		require.NoError(t, s.Reveal(p, sec.value, sec.salt, at))
	}
}

func TestNewValidation(t *testing.T) {
	valid := Config{
		Participants:     []string{"a", "b", "c"},
		Params:           selection.Params{Winners: 1},
		CommitmentWindow: time.Minute,
		RevealWindow:     time.Minute,
	}
	_, err := New("id", valid, t0)
	require.NoError(t, err)

	for name, mutate := range map[string]func(c *Config){
		"no participants":   func(c *Config) { c.Participants = nil },
		"empty participant": func(c *Config) { c.Participants = []string{"a", ""} },
		"duplicate":         func(c *Config) { c.Participants = []string{"a", "b", "a"} },
		"k above n":         func(c *Config) { c.Params.Winners = 4 },
		"zero weight": func(c *Config) {
			c.Params.Weights = []selection.Weight{selection.NewWeight(1), selection.NewWeight(0), selection.NewWeight(2)}
		},
		"negative weight": func(c *Config) {
			c.Params.Weights = []selection.Weight{selection.NewWeight(1), selection.NewWeight(-1), selection.NewWeight(2)}
		},
		"zero commit window":  func(c *Config) { c.CommitmentWindow = 0 },
		"negative reveal":     func(c *Config) { c.RevealWindow = -time.Second },
		"unknown algorithm":   func(c *Config) { c.Algorithm = "md5" },
		"weights for too few": func(c *Config) { c.Params.Weights = []selection.Weight{selection.NewWeight(1)} },
		"tiers exceed roster": func(c *Config) { c.Params = selection.Params{Mode: selection.ModeTiers, Tiers: []int{2, 2}} },
		"tier sum wraps int": func(c *Config) {
			c.Params = selection.Params{Mode: selection.ModeTiers, Tiers: []int{math.MaxInt, 2}}
		},
		"windows overflow": func(c *Config) {
			c.CommitmentWindow = math.MaxInt64/2 + 1
			c.RevealWindow = math.MaxInt64/2 + 1
		},
		"reveal window overflows": func(c *Config) {
			c.CommitmentWindow = time.Minute
			c.RevealWindow = math.MaxInt64
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			cfg.Participants = append([]string(nil), valid.Participants...)
			mutate(&cfg)
			_, err := New("id", cfg, t0)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err = New("", valid, t0)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewDeadlinesOrdered(t *testing.T) {
	s, err := New("id", Config{
		Participants:     []string{"a", "b"},
		Params:           selection.Params{Winners: 1},
		CommitmentWindow: math.MaxInt64 / 2,
		RevealWindow:     math.MaxInt64 / 2,
	}, t0)
	require.NoError(t, err)
	require.True(t, s.CommitmentDeadline.After(s.CreatedAt))
	require.True(t, s.RevealDeadline.After(s.CommitmentDeadline))
}

func TestUncomputableResultFailsSession(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	commitAll(t, s, t0, "A", "B")
	revealAll(t, s, t0, "A")

	// Parameters that no longer fit the roster, as a corrupted record would carry.
	s.Params.Winners = 5
	require.NotPanics(t, func() { s.Advance(s.RevealDeadline) })
	require.Equal(t, PhaseCompleted, s.Phase)

	result := s.ResultView()
	require.Equal(t, ResultFailed, result.Status)
	require.NotEmpty(t, result.Failure)
	require.ErrorIs(t, result.Err(), ErrResultFailed)
	require.Nil(t, result.FinalSeed)
	require.True(t, s.Verify().Valid())
}

func TestNewOpensCommitment(t *testing.T) {
	s := newSession(t, []string{"a", "b"}, selection.Params{Winners: 1})
	require.Equal(t, PhaseCommitment, s.Phase)
	require.Equal(t, commitment.DefaultAlgorithm, s.Algorithm)
	require.True(t, s.CommitmentDeadline.After(s.CreatedAt))
	require.True(t, s.RevealDeadline.After(s.CommitmentDeadline))
	require.Len(t, s.Transitions, 1)
	require.Equal(t, PhaseCreated, s.Transitions[0].From)
	require.Equal(t, PhaseCommitment, s.Transitions[0].To)
	require.Equal(t, ResultPending, s.ResultView().Status)
}

// Scenario A: everybody commits and reveals; the result can be recomputed
// offline from the published (value, salt) pairs.
func TestScenarioAllReveal(t *testing.T) {
	participants := []string{"A", "B", "C"}
	s := newSession(t, participants, selection.Params{Winners: 1})

	commitAll(t, s, t0.Add(time.Minute), participants...)
	require.Equal(t, PhaseReveal, s.Phase, "all committed closes the commitment phase early")
	require.Equal(t, ResultPending, s.ResultView().Status)

	revealAll(t, s, t0.Add(2*time.Minute), "C", "A", "B")
	require.Equal(t, PhaseCompleted, s.Phase)

	res := s.ResultView()
	require.Equal(t, ResultCompleted, res.Status)
	require.Len(t, res.Outcome.Winners, 1)
	require.Contains(t, participants, res.Outcome.Winners[0])
	require.Equal(t, []string{"A", "B", "C"}, res.Contributors)

	// Offline recomputation from the published pairs.
	var contributions []randomness.Contribution
	for _, p := range participants {
		sec := secretFor(p)
		require.True(t, commitment.Verify(sec.value, sec.salt, s.Commitments[p].Digest))
		contributions = append(contributions, randomness.Contribution{ParticipantID: p, Value: sec.value})
	}
	seed := randomness.Combine(contributions)
	require.Equal(t, seed, *res.FinalSeed)
	outcome, err := selection.Select(seed, participants, selection.Params{Winners: 1})
	require.NoError(t, err)
	require.Equal(t, outcome.Winners, res.Outcome.Winners)

	report := s.Verify()
	require.True(t, report.Valid(), report.Issues)
	require.True(t, report.SeedVerified)
	require.True(t, report.OutcomeVerified)
	require.Equal(t, 3, report.VerifiedReveals)
}

// Scenario B: a reveal that does not match is rejected and audited, and the
// result uses the remaining reveals once the deadline passes.
func TestScenarioMismatchedReveal(t *testing.T) {
	participants := []string{"A", "B", "C"}
	s := newSession(t, participants, selection.Params{Winners: 1})
	commitAll(t, s, t0.Add(time.Minute), participants...)

	revealAll(t, s, t0.Add(2*time.Minute), "A", "C")
	err := s.Reveal("B", []byte("something else"), secretFor("B").salt, t0.Add(3*time.Minute))
	require.ErrorIs(t, err, ErrCommitmentMismatch)
	var perr *ParticipantError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "B", perr.ParticipantID)

	require.Equal(t, PhaseReveal, s.Phase)
	require.Len(t, s.RejectedReveals, 1)
	require.Equal(t, "B", s.RejectedReveals[0].ParticipantID)
	require.Equal(t, 1, s.View().RejectedReveals)
	require.True(t, s.Dirty())

	change := s.Advance(s.RevealDeadline)
	require.Equal(t, PhaseReveal, change.From)
	require.Equal(t, PhaseCompleted, change.To)

	res := s.ResultView()
	require.Equal(t, ResultCompleted, res.Status)
	require.Equal(t, []string{"A", "C"}, res.Contributors)
	expected := randomness.Combine([]randomness.Contribution{
		{ParticipantID: "A", Value: secretFor("A").value},
		{ParticipantID: "C", Value: secretFor("C").value},
	})
	require.Equal(t, expected, *res.FinalSeed)

	report := s.Verify()
	require.True(t, report.Valid(), report.Issues)
	require.Equal(t, 1, report.RejectedReveals)
	require.Equal(t, []string{"B"}, report.MissingReveals)
}

// Scenario C: the commitment deadline passes with a missing commitment.
func TestScenarioLateCommitment(t *testing.T) {
	s := newSession(t, []string{"A", "B", "C"}, selection.Params{Winners: 1})
	commitAll(t, s, t0.Add(time.Minute), "A", "B")
	require.Equal(t, PhaseCommitment, s.Phase)

	late := s.CommitmentDeadline.Add(time.Second)
	sec := secretFor("C")
	err := s.Commit("C", commitment.Commit(sec.value, sec.salt), late)
	require.ErrorIs(t, err, ErrPhase)
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	require.Equal(t, []Phase{PhaseCommitment}, phaseErr.Expected)
	require.Equal(t, PhaseReveal, phaseErr.Actual)
	require.Equal(t, "session-1", phaseErr.SessionID)
	require.Equal(t, PhaseReveal, s.Phase)
	require.NotContains(t, s.Commitments, "C")

	// C never committed, so it cannot reveal either.
	err = s.Reveal("C", sec.value, sec.salt, late)
	require.ErrorIs(t, err, ErrNoCommitment)

	// Both committed participants revealing completes the session.
	revealAll(t, s, late, "A", "B")
	require.Equal(t, PhaseCompleted, s.Phase)
}

// Scenario D: everybody commits, nobody reveals.
func TestScenarioNoReveals(t *testing.T) {
	participants := []string{"A", "B", "C"}
	s := newSession(t, participants, selection.Params{Winners: 1})
	commitAll(t, s, t0.Add(time.Minute), participants...)

	s.Advance(s.RevealDeadline.Add(-time.Nanosecond))
	require.Equal(t, ResultPending, s.ResultView().Status)

	s.Advance(s.RevealDeadline)
	require.Equal(t, PhaseCompleted, s.Phase)
	res := s.ResultView()
	require.Equal(t, ResultNoValidReveals, res.Status)
	require.ErrorIs(t, res.Err(), ErrNoValidReveals)
	require.Nil(t, res.FinalSeed)
	require.Nil(t, res.Outcome)

	report := s.Verify()
	require.True(t, report.Valid(), report.Issues)
	require.ElementsMatch(t, participants, report.MissingReveals)
}

func TestNobodyCommitsCompletesAtCommitmentDeadline(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	change := s.Advance(s.CommitmentDeadline)
	require.Equal(t, PhaseCommitment, change.From)
	require.Equal(t, PhaseCompleted, change.To)
	require.Equal(t, ResultNoValidReveals, s.ResultView().Status)
}

func TestAdvanceIdempotent(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	commitAll(t, s, t0, "A")

	now := s.CommitmentDeadline
	first := s.Advance(now)
	require.True(t, first.Changed())
	require.Equal(t, PhaseReveal, first.To)
	transitions := len(s.Transitions)

	for i := 0; i < 5; i++ {
		again := s.Advance(now)
		require.False(t, again.Changed())
		require.Equal(t, PhaseReveal, s.Phase)
	}
	require.Len(t, s.Transitions, transitions)

	// Terminal sessions never move.
	s.Advance(s.RevealDeadline)
	require.Equal(t, PhaseCompleted, s.Phase)
	result := s.ResultView()
	for i := 0; i < 3; i++ {
		require.False(t, s.Advance(s.RevealDeadline.Add(time.Hour)).Changed())
	}
	require.Equal(t, result, s.ResultView())
}

func TestCommitErrors(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})

	err := s.Commit("Z", commitment.Digest{}, t0)
	require.ErrorIs(t, err, ErrUnknownParticipant)

	require.NoError(t, s.Commit("A", commitment.Digest{1}, t0))
	err = s.Commit("A", commitment.Digest{2}, t0)
	require.ErrorIs(t, err, ErrDuplicateCommitment)
	require.Equal(t, commitment.Digest{1}, s.Commitments["A"].Digest, "first commitment is immutable")
}

func TestRevealErrors(t *testing.T) {
	s := newSession(t, []string{"A", "B", "C"}, selection.Params{Winners: 1})
	sec := secretFor("A")

	// Reveal during the commitment phase.
	commitAll(t, s, t0, "A")
	err := s.Reveal("A", sec.value, sec.salt, t0)
	require.ErrorIs(t, err, ErrPhase)
	require.Empty(t, s.Reveals)

	commitAll(t, s, t0, "B")
	now := s.CommitmentDeadline
	require.ErrorIs(t, s.Reveal("Z", sec.value, sec.salt, now), ErrUnknownParticipant)
	require.ErrorIs(t, s.Reveal("C", sec.value, sec.salt, now), ErrNoCommitment)

	require.NoError(t, s.Reveal("A", sec.value, sec.salt, now))
	require.ErrorIs(t, s.Reveal("A", sec.value, sec.salt, now), ErrDuplicateReveal)

	// A mismatch can be retried with the right opening.
	require.ErrorIs(t, s.Reveal("B", []byte("wrong"), []byte("wrong"), now), ErrCommitmentMismatch)
	revealAll(t, s, now, "B")
	require.Equal(t, PhaseCompleted, s.Phase)
	require.Len(t, s.RejectedReveals, 1)
}

func TestCancel(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	commitAll(t, s, t0, "A")

	require.NoError(t, s.Cancel("operator request", t0.Add(time.Second)))
	require.Equal(t, PhaseCancelled, s.Phase)
	require.Equal(t, "operator request", s.CancelReason)
	require.NotNil(t, s.CancelledAt)
	require.Equal(t, ResultCancelled, s.ResultView().Status)

	require.ErrorIs(t, s.Commit("B", commitment.Digest{}, t0.Add(2*time.Second)), ErrPhase)
	require.ErrorIs(t, s.Cancel("again", t0.Add(2*time.Second)), ErrPhase)
	require.False(t, s.Advance(s.RevealDeadline).Changed())
	require.Nil(t, s.Result)
}

func TestCancelAfterDeadlineLosesToCompletion(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	commitAll(t, s, t0, "A", "B")
	revealAll(t, s, t0, "A")

	err := s.Cancel("too late", s.RevealDeadline)
	require.ErrorIs(t, err, ErrPhase)
	require.Equal(t, PhaseCompleted, s.Phase)
	require.Equal(t, ResultCompleted, s.ResultView().Status)
}

func TestOutcomeModes(t *testing.T) {
	participants := []string{"A", "B", "C", "D"}
	for _, params := range []selection.Params{
		{Mode: selection.ModeOrdering},
		{Mode: selection.ModeTiers, Tiers: []int{1, 2}},
		{Mode: selection.ModeWinners, Winners: 2, Weights: []selection.Weight{
			selection.NewWeight(1), selection.NewWeight(2), selection.NewWeight(3), selection.MustParseWeight("0.5"),
		}},
	} {
		s := newSession(t, participants, params)
		commitAll(t, s, t0, participants...)
		revealAll(t, s, t0, participants...)
		res := s.ResultView()
		require.Equal(t, ResultCompleted, res.Status)
		require.Equal(t, params.Mode, res.Outcome.Mode)
		require.Len(t, res.Outcome.Winners, params.Draws(len(participants)))
		require.True(t, s.Verify().Valid())
	}
}

func TestAlgorithms(t *testing.T) {
	for _, alg := range commitment.Algorithms() {
		s, err := New("id", Config{
			Participants:     []string{"A"},
			Params:           selection.Params{Winners: 1},
			CommitmentWindow: time.Minute,
			RevealWindow:     time.Minute,
			Algorithm:        alg,
		}, t0)
		require.NoError(t, err)

		sec := secretFor("A")
		d, err := alg.Commit(sec.value, sec.salt)
		require.NoError(t, err)
		require.NoError(t, s.Commit("A", d, t0))
		require.NoError(t, s.Reveal("A", sec.value, sec.salt, t0))
		require.Equal(t, ResultCompleted, s.ResultView().Status, alg)
	}
}

func TestView(t *testing.T) {
	s := newSession(t, []string{"A", "B", "C"}, selection.Params{Winners: 2})
	commitAll(t, s, t0, "A", "B")

	v := s.View()
	require.Equal(t, "session-1", v.ID)
	require.Equal(t, PhaseCommitment, v.Phase)
	require.Equal(t, 3, v.Participants)
	require.Equal(t, 2, v.Commitments)
	require.Equal(t, 0, v.Reveals)
	require.Equal(t, ResultPending, v.ResultStatus)
	require.Equal(t, s.CommitmentDeadline, v.CommitmentDeadline)
}

func TestCodecRoundTrip(t *testing.T) {
	participants := []string{"A", "B", "C"}
	s := newSession(t, participants, selection.Params{Winners: 2, Weights: []selection.Weight{
		selection.NewWeight(5), selection.MustParseWeight("1.5"), selection.NewWeight(2),
	}})
	commitAll(t, s, t0.Add(time.Second), participants...)
	revealAll(t, s, t0.Add(2*time.Second), "A", "B")
	require.ErrorIs(t, s.Reveal("C", []byte("x"), nil, t0.Add(3*time.Second)), ErrCommitmentMismatch)
	s.Advance(s.RevealDeadline)

	data, err := Encode(s)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.False(t, decoded.Dirty())

	require.Equal(t, s.ID, decoded.ID)
	require.Equal(t, s.Participants, decoded.Participants)
	require.Equal(t, s.Phase, decoded.Phase)
	require.True(t, s.CreatedAt.Equal(decoded.CreatedAt))
	require.True(t, s.RevealDeadline.Equal(decoded.RevealDeadline))
	require.Equal(t, s.Commitments["A"].Digest, decoded.Commitments["A"].Digest)
	require.Equal(t, s.Reveals["B"].Salt, decoded.Reveals["B"].Salt)
	require.Len(t, decoded.RejectedReveals, 1)
	require.Len(t, decoded.Transitions, len(s.Transitions))
	require.Equal(t, *s.Result.FinalSeed, *decoded.Result.FinalSeed)
	require.Equal(t, s.Result.Outcome.Winners, decoded.Result.Outcome.Winners)
	require.Equal(t, "1.5", decoded.Params.Weights[1].String())
	require.True(t, decoded.Verify().Valid())

	// Encoding is deterministic.
	again, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, data, again)

	_, err = Decode([]byte{0xff})
	require.Error(t, err)
}

func TestDecodedSessionKeepsWorking(t *testing.T) {
	s := newSession(t, []string{"A", "B"}, selection.Params{Winners: 1})
	data, err := Encode(s)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	commitAll(t, decoded, t0, "A")
	require.ErrorIs(t, decoded.Commit("Z", commitment.Digest{}, t0), ErrUnknownParticipant)
	require.True(t, decoded.Dirty())
}
