package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
)

const (
	sweeperName = "sweeper"

	DefaultSweepInterval    = time.Second
	DefaultSweepParallelism = 8
)

// Sweeper periodically advances every active session, so deadlines close
// sessions that nobody touches.
type Sweeper struct {
	manager     *Manager
	store       storage.SessionStore
	interval    time.Duration
	parallelism int
	logger      *log.Logger
}

// NewSweeper returns a sweeper over the manager's store. Non-positive
// interval and parallelism select defaults.
func NewSweeper(manager *Manager, interval time.Duration, parallelism int, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if parallelism <= 0 {
		parallelism = DefaultSweepParallelism
	}
	return &Sweeper{
		manager:     manager,
		store:       manager.store,
		interval:    interval,
		parallelism: parallelism,
		logger:      logger.WithModule(sweeperName),
	}
}

// Name returns the service name.
func (s *Sweeper) Name() string {
	return sweeperName
}

// Start sweeps every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("starting sweeper", "interval", s.interval, "parallelism", s.parallelism)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "err", err)
		}
	}
}

// SweepOnce advances every active session once and returns how many
// changed phase. Failures on single sessions are logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	m := &s.manager.metrics
	ids, err := s.store.ListActive(ctx)
	if err != nil {
		m.Sweeps("failure").Inc()
		return 0, fmt.Errorf("listing active sessions: %w", err)
	}
	m.ActiveSessions().Set(float64(len(ids)))

	var (
		changed atomic.Int64
		failed  atomic.Int64
	)
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			change, err := s.manager.AdvancePhase(ctx, id, time.Time{})
			if err != nil {
				failed.Add(1)
				s.logger.Warn("failed to advance session", "session_id", id, "err", err, "kind", Kind(err))
				return nil
			}
			if change.Changed() {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	status := "success"
	if failed.Load() > 0 {
		status = "partial"
	}
	m.Sweeps(status).Inc()
	if n := changed.Load(); n > 0 || failed.Load() > 0 {
		s.logger.Debug("sweep finished", "active", len(ids), "changed", n, "failed", failed.Load())
	}
	return int(changed.Load()), nil
}
