package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	appErrors "github.com/kanisahub/comms-backend/internal/errors"
	"github.com/kanisahub/comms-backend/internal/queue"
	"github.com/kanisahub/comms-backend/internal/repository"
)

// DispatchScheduler promotes batches whose scheduled time has arrived into
// the dispatch queue. The scheduled->pending compare-and-set acts as the
// claim, so overlapping ticks never double-dispatch a batch.
type DispatchScheduler struct {
	cronEngine *cron.Cron
	batches    repository.BatchRepositoryInterface
	dispatcher queue.Dispatcher
	logger     *logrus.Logger
	spec       string
}

func NewDispatchScheduler(
	batches repository.BatchRepositoryInterface,
	dispatcher queue.Dispatcher,
	logger *logrus.Logger,
	spec string, // e.g. "@every 1m"
) *DispatchScheduler {
	return &DispatchScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)),
		batches:    batches,
		dispatcher: dispatcher,
		logger:     logger,
		spec:       spec,
	}
}

func (s *DispatchScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.spec, func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return err
	}
	s.cronEngine.Start()
	s.logger.WithField("spec", s.spec).Info("dispatch scheduler started")
	return nil
}

// Tick claims and dispatches every due scheduled batch. Exported so tests
// can drive it without the cron engine.
func (s *DispatchScheduler) Tick(ctx context.Context) {
	due, err := s.batches.ListDue(time.Now())
	if err != nil {
		s.logger.WithError(err).Error("failed to query due batches")
		return
	}

	for _, batch := range due {
		claimed, err := s.batches.ClaimScheduled(batch.ID)
		if err != nil {
			s.logger.WithError(err).WithField("batch_id", batch.ID).Error("claim failed")
			continue
		}
		if !claimed {
			// Another tick got there first.
			continue
		}

		s.logger.WithField("batch_id", batch.ID).Info("scheduled batch promoted, dispatching")
		if err := s.dispatcher.Dispatch(ctx, batch.ID, queue.ScopeAllPending); err != nil {
			var insufficient *appErrors.InsufficientBalanceError
			if errors.As(err, &insufficient) {
				// Batch stays pending; the operator tops up and re-dispatches.
				s.logger.WithError(err).WithField("batch_id", batch.ID).Warn("scheduled dispatch deferred")
				continue
			}
			s.logger.WithError(err).WithField("batch_id", batch.ID).Error("scheduled dispatch failed")
		}
	}
}

func (s *DispatchScheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("dispatch scheduler stopped")
}
