package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
)

// DueLister selects pending units whose send time has come.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// JobRunner is satisfied by *JobProcessor.
type JobRunner interface {
	ProcessEmailJob(ctx context.Context, id uuid.UUID) JobResult
}

// BatchScheduler picks due units and runs them concurrently.
type BatchScheduler struct {
	Units       DueLister
	Processor   JobRunner
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger
}

func NewBatchScheduler(units DueLister, processor JobRunner, concurrency int, log *slog.Logger) *BatchScheduler {
	return &BatchScheduler{
		Units:       units,
		Processor:   processor,
		Concurrency: concurrency,
		Now:         time.Now,
		Logger:      log.With(logger.Component("batch_scheduler")),
	}
}

// ProcessPendingJobs returns how many units were sent. Failures are logged by
// the processor and never stop sibling units.
func (s *BatchScheduler) ProcessPendingJobs(ctx context.Context, batchSize int) int {
	start := time.Now()
	ids, err := s.Units.ListDue(ctx, s.Now(), batchSize)
	if err != nil {
		s.Logger.ErrorContext(ctx, "failed to list due units", logger.Error(err))
		return 0
	}
	metrics.BatchSize.Observe(float64(len(ids)))
	if len(ids) == 0 {
		return 0
	}

	var sent atomic.Int64
	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for _, id := range ids {
		g.Go(func() error {
			if s.Processor.ProcessEmailJob(ctx, id).Success() {
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.Logger.InfoContext(ctx, "batch processed",
		logger.Count(len(ids)),
		slog.Int64("sent", sent.Load()),
		logger.Duration(time.Since(start)),
	)
	return int(sent.Load())
}
