// Package scheduler drives periodic harvest runs and exposes a manual
// trigger for the API.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hnwatch/hnwatch/internal/harvest"
	"github.com/hnwatch/hnwatch/internal/hn"
	"github.com/hnwatch/hnwatch/internal/notify"
	"github.com/hnwatch/hnwatch/internal/store"
)

// Harvester produces one observation set per run.
type Harvester interface {
	Run(ctx context.Context) (hn.ObservationSet, error)
}

// Scheduler executes harvest runs on an interval. At most one run is in
// flight at any moment; overlapping triggers are rejected with
// hn.ErrBusy.
type Scheduler struct {
	harvester Harvester
	store     store.Store
	publisher notify.Publisher
	interval  time.Duration
	topic     string
	logger    *zap.Logger

	running atomic.Bool
}

// New builds a Scheduler. A nil publisher disables run events.
func New(harvester Harvester, st store.Store, publisher notify.Publisher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		harvester: harvester,
		store:     st,
		publisher: publisher,
		interval:  interval,
		topic:     "runs.completed",
		logger:    logger,
	}
}

// Start blocks until ctx is canceled, running a harvest immediately and
// then on every interval tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial harvest failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled harvest failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single harvest-and-commit cycle. It returns
// hn.ErrBusy when a run is already in flight.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		harvest.ObserveRun("busy")
		return hn.ErrBusy
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// Trigger starts a run in the background. It returns hn.ErrBusy when a
// run is already in flight, otherwise the run proceeds detached from
// the caller.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		harvest.ObserveRun("busy")
		return hn.ErrBusy
	}
	go func() {
		defer s.running.Store(false)
		if err := s.run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("triggered harvest failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) error {
	set, err := s.harvester.Run(ctx)
	if err != nil {
		return err
	}

	if err := s.store.CommitSnapshot(ctx, set); err != nil {
		return err
	}

	s.logger.Info("snapshot committed",
		zap.Time("snapshot_moment", set.SnapshotMoment),
		zap.Int("observed", len(set.Observations)),
		zap.Int("first_page", set.FirstPageCount()),
		zap.Ints("pages_failed", set.PagesFailed))

	event := notify.RunCompleted{
		SnapshotMoment: set.SnapshotMoment,
		Observed:       len(set.Observations),
		FirstPage:      set.FirstPageCount(),
		PagesFailed:    set.PagesFailed,
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		// Event delivery is best effort; the snapshot is already durable.
		s.logger.Warn("publish run event failed", zap.Error(err))
	}
	return nil
}

// Busy reports whether a run is currently in flight.
func (s *Scheduler) Busy() bool {
	return s.running.Load()
}
