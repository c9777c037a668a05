// Package engine routes session operations to the state machine, persists
// the results, and keeps deadlines moving.
//
// Every operation runs inside a per-session lock: load the snapshot,
// advance the session to the current time, apply the operation, and save
// it if anything changed. Saves use the store's optimistic concurrency, so
// several engine processes may share one store; a lost race is retried
// from a fresh load.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oasisprotocol/fairdraw/commitment"
	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/metrics"
	"github.com/oasisprotocol/fairdraw/session"
	"github.com/oasisprotocol/fairdraw/storage"
	"github.com/oasisprotocol/fairdraw/util"
)

const (
	moduleName = "engine"

	DefaultMaxSaveAttempts = 5
	DefaultRetryInitial    = 10 * time.Millisecond
	DefaultRetryMaximum    = time.Second

	// DefaultListLimit is the page size used by List for a non-positive
	// limit. Larger limits are capped at MaxListLimit.
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Options configure a Manager. Zero values select defaults.
type Options struct {
	Clock           Clock
	MaxSaveAttempts int
	RetryInitial    time.Duration
	RetryMaximum    time.Duration
	// Algorithm is used for sessions created without one.
	Algorithm commitment.Algorithm
	// Metrics defaults to the process-wide collectors.
	Metrics *metrics.EngineMetrics
}

// Manager owns session lifecycles on top of a SessionStore.
type Manager struct {
	store   storage.SessionStore
	logger  *log.Logger
	clock   Clock
	metrics metrics.EngineMetrics
	locks   *keyedMutex

	maxAttempts  int
	retryInitial time.Duration
	retryMaximum time.Duration
	algorithm    commitment.Algorithm
}

// NewManager returns a manager backed by store.
func NewManager(store storage.SessionStore, logger *log.Logger, opts Options) (*Manager, error) {
	m := &Manager{
		store:        store,
		logger:       logger.WithModule(moduleName),
		clock:        opts.Clock,
		locks:        newKeyedMutex(),
		maxAttempts:  opts.MaxSaveAttempts,
		retryInitial: opts.RetryInitial,
		retryMaximum: opts.RetryMaximum,
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxSaveAttempts
	}
	if m.retryInitial <= 0 {
		m.retryInitial = DefaultRetryInitial
	}
	if m.retryMaximum <= 0 {
		m.retryMaximum = DefaultRetryMaximum
	}
	if _, err := util.NewBackoff(m.retryInitial, m.retryMaximum); err != nil {
		return nil, fmt.Errorf("engine: retry backoff: %w", err)
	}
	alg, err := commitment.ParseAlgorithm(string(opts.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	m.algorithm = alg
	if opts.Metrics != nil {
		m.metrics = *opts.Metrics
	} else {
		m.metrics = metrics.NewDefaultEngineMetrics()
	}
	return m, nil
}

// Clock returns the manager's clock.
func (m *Manager) Clock() Clock {
	return m.clock
}

func (m *Manager) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	m.metrics.Operations(op, outcome).Inc()
}

func snapshotOf(s *session.Session) (*storage.Snapshot, error) {
	data, err := session.Encode(s)
	if err != nil {
		return nil, err
	}
	return &storage.Snapshot{
		Phase:  s.Phase.String(),
		Active: s.Phase.Active(),
		Data:   data,
	}, nil
}

// Create validates cfg, persists a new session and returns its id.
func (m *Manager) Create(ctx context.Context, cfg session.Config) (id string, err error) {
	timer := m.metrics.Latencies("create")
	defer timer.ObserveDuration()
	defer func() { m.observe("create", err) }()

	if cfg.Algorithm == "" {
		cfg.Algorithm = m.algorithm
	}
	id = uuid.NewString()
	s, err := session.New(id, cfg, m.clock.Now())
	if err != nil {
		return "", err
	}
	snap, err := snapshotOf(s)
	if err != nil {
		return "", err
	}
	if err = m.store.Save(ctx, id, snap, 0); err != nil {
		return "", &TransientError{Op: "create", Attempts: 1, Err: err}
	}
	m.recordTransitions(s.Transitions)

	m.logger.Info("session created",
		"session_id", id,
		"participants", len(s.Participants),
		"algorithm", s.Algorithm,
		"mode", s.Params.Mode,
		"commitment_deadline", s.CommitmentDeadline,
		"reveal_deadline", s.RevealDeadline,
	)
	return id, nil
}

func (m *Manager) recordTransitions(transitions []session.Transition) {
	for _, t := range transitions {
		m.metrics.Transitions(t.From.String(), t.To.String()).Inc()
	}
}

// update runs fn against the latest state of a session under the
// session's lock and persists the session if it changed, even when fn
// fails: a rejected reveal is part of the record. On a version conflict
// the whole cycle is retried from a fresh load. If at is zero the clock
// is read on every attempt.
func (m *Manager) update(ctx context.Context, op string, id string, at time.Time, fn func(s *session.Session, now time.Time) error) (*session.Session, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	backoff, err := util.NewBackoff(m.retryInitial, m.retryMaximum)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		snap, err := m.store.Load(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: session %s: %w", op, id, err)
		case err != nil:
			return nil, &TransientError{Op: op, Attempts: attempt, Err: err}
		}
		s, err := session.Decode(snap.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		now := at
		if now.IsZero() {
			now = m.clock.Now()
		}
		known := len(s.Transitions)
		opErr := fn(s, now)

		// A stale active flag is rewritten so the sweep stops visiting.
		if !s.Dirty() && snap.Active == s.Phase.Active() {
			return s, opErr
		}
		next, err := snapshotOf(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		err = m.store.Save(ctx, id, next, snap.Version)
		if err == nil {
			s.MarkClean()
			m.recordTransitions(s.Transitions[known:])
			for _, t := range s.Transitions[known:] {
				m.logger.Info("session phase changed",
					"session_id", id,
					"from", t.From,
					"to", t.To,
					"reason", t.Reason,
				)
			}
			return s, opErr
		}
		if !errors.Is(err, storage.ErrVersionConflict) || attempt >= m.maxAttempts {
			return nil, &TransientError{Op: op, Attempts: attempt, Err: err}
		}

		m.metrics.SaveRetries(op).Inc()
		m.logger.Debug("version conflict, retrying",
			"op", op,
			"session_id", id,
			"attempt", attempt,
			"backoff", backoff.Timeout(),
		)
		if werr := backoff.Wait(ctx); werr != nil {
			return nil, &TransientError{Op: op, Attempts: attempt, Err: werr}
		}
	}
}

// SubmitCommitment records participant's commitment digest.
func (m *Manager) SubmitCommitment(ctx context.Context, id string, participant string, digest commitment.Digest) (err error) {
	timer := m.metrics.Latencies("submit_commitment")
	defer timer.ObserveDuration()
	defer func() { m.observe("submit_commitment", err) }()

	_, err = m.update(ctx, "submit_commitment", id, time.Time{}, func(s *session.Session, now time.Time) error {
		return s.Commit(participant, digest, now)
	})
	return err
}

// SubmitReveal records participant's reveal. A reveal that does not open
// the commitment is persisted as rejected and reported as
// session.ErrCommitmentMismatch.
func (m *Manager) SubmitReveal(ctx context.Context, id string, participant string, value, salt []byte) (err error) {
	timer := m.metrics.Latencies("submit_reveal")
	defer timer.ObserveDuration()
	defer func() { m.observe("submit_reveal", err) }()

	_, err = m.update(ctx, "submit_reveal", id, time.Time{}, func(s *session.Session, now time.Time) error {
		return s.Reveal(participant, value, salt, now)
	})
	return err
}

// AdvancePhase performs the transitions due at now, or at the clock's
// current time when now is zero. It is idempotent.
func (m *Manager) AdvancePhase(ctx context.Context, id string, now time.Time) (change session.PhaseChange, err error) {
	timer := m.metrics.Latencies("advance_phase")
	defer timer.ObserveDuration()
	defer func() { m.observe("advance_phase", err) }()

	_, err = m.update(ctx, "advance_phase", id, now, func(s *session.Session, now time.Time) error {
		change = s.Advance(now)
		return nil
	})
	return change, err
}

// Cancel ends a session without a result. If a deadline already closed
// the session, the completion wins and Cancel fails with a PhaseError.
func (m *Manager) Cancel(ctx context.Context, id string, reason string) (err error) {
	timer := m.metrics.Latencies("cancel")
	defer timer.ObserveDuration()
	defer func() { m.observe("cancel", err) }()

	_, err = m.update(ctx, "cancel", id, time.Time{}, func(s *session.Session, now time.Time) error {
		return s.Cancel(reason, now)
	})
	if err == nil {
		m.logger.Info("session cancelled", "session_id", id, "reason", reason)
	}
	return err
}

// GetResult returns the session's result: Pending until the reveal phase
// closes, Cancelled after cancellation, else the computed result.
func (m *Manager) GetResult(ctx context.Context, id string) (result session.Result, err error) {
	defer func() { m.observe("get_result", err) }()

	s, err := m.update(ctx, "get_result", id, time.Time{}, func(s *session.Session, now time.Time) error {
		s.Advance(now)
		return nil
	})
	if err != nil {
		return session.Result{}, err
	}
	return s.ResultView(), nil
}

// GetSessionView returns a summary of the session without secret material.
func (m *Manager) GetSessionView(ctx context.Context, id string) (view session.View, err error) {
	defer func() { m.observe("get_session_view", err) }()

	s, err := m.update(ctx, "get_session_view", id, time.Time{}, func(s *session.Session, now time.Time) error {
		s.Advance(now)
		return nil
	})
	if err != nil {
		return session.View{}, err
	}
	return s.View(), nil
}

// List returns summaries of up to limit sessions whose ids sort after
// after, in id order. Sessions are brought up to date in memory only;
// deadline transitions are persisted by the next operation or sweep.
func (m *Manager) List(ctx context.Context, after string, limit int) (views []session.View, err error) {
	defer func() { m.observe("list", err) }()

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	ids, err := m.store.List(ctx, after, limit)
	if err != nil {
		return nil, &TransientError{Op: "list", Attempts: 1, Err: err}
	}

	now := m.clock.Now()
	views = make([]session.View, 0, len(ids))
	for _, id := range ids {
		snap, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, &TransientError{Op: "list", Attempts: 1, Err: err}
		}
		s, err := session.Decode(snap.Data)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		s.Advance(now)
		views = append(views, s.View())
	}
	return views, nil
}

// Verify audits the stored session record. It does not advance the
// session.
func (m *Manager) Verify(ctx context.Context, id string) (report *session.VerificationReport, err error) {
	defer func() { m.observe("verify", err) }()

	snap, err := m.store.Load(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("verify: session %s: %w", id, err)
	case err != nil:
		return nil, &TransientError{Op: "verify", Attempts: 1, Err: err}
	}
	s, err := session.Decode(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return s.Verify(), nil
}
