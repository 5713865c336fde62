package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/repository"
)

const pruneTimeout = 5 * time.Minute

// RetentionScheduler periodically deletes click events older than the
// retention period.
type RetentionScheduler struct {
	events    repository.EventStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewRetentionScheduler(
	events repository.EventStore,
	retention time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) *RetentionScheduler {
	return &RetentionScheduler{
		events:    events,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval.
func (s *RetentionScheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("retention scheduler started",
		zap.Duration("retention", s.retention),
		zap.Duration("interval", s.interval),
	)
}

// Stop waits for an in-flight sweep to finish.
func (s *RetentionScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("retention scheduler stopped")
}

func (s *RetentionScheduler) run() {
	defer s.wg.Done()

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *RetentionScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	if _, err := s.PruneNow(ctx); err != nil {
		s.logger.Error("click event pruning failed", zap.Error(err))
	}
}

// PruneNow deletes events older than now minus the retention period and
// returns the cutoff used. A zero retention keeps everything.
func (s *RetentionScheduler) PruneNow(ctx context.Context) (time.Time, error) {
	if s.retention <= 0 {
		return time.Time{}, nil
	}

	cutoff := s.now().Add(-s.retention).UTC()
	removed, err := s.events.DeleteClickEventsBefore(ctx, cutoff)
	if err != nil {
		return cutoff, err
	}

	if removed > 0 {
		s.logger.Info("pruned click events", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	}
	return cutoff, nil
}
