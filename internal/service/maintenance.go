package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
)

type FailedRequeuer interface {
	FailStale(ctx context.Context, claimedBefore time.Time, reason string) ([]uuid.UUID, error)
	RequeueFailed(ctx context.Context, maxRetries int) ([]uuid.UUID, error)
}

// DefaultStaleClaimAfter is how long a unit may sit in processing before the
// retry pass treats its worker as gone.
const DefaultStaleClaimAfter = 15 * time.Minute

// RetryManager puts failed units with retries left back into the pool.
type RetryManager struct {
	Units      FailedRequeuer
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewRetryManager(units FailedRequeuer, staleAfter time.Duration, log *slog.Logger) *RetryManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleClaimAfter
	}
	return &RetryManager{
		Units:      units,
		StaleAfter: staleAfter,
		Now:        time.Now,
		Logger:     log.With(logger.Component("retry_manager")),
	}
}

// RetryFailedJobs first fails claims older than StaleAfter, then moves failed
// units with retry_count < maxRetries back to pending and returns how many
// moved.
func (m *RetryManager) RetryFailedJobs(ctx context.Context, maxRetries int) int {
	stale, err := m.Units.FailStale(ctx, m.Now().Add(-m.StaleAfter), "stale processing claim")
	if err != nil {
		m.Logger.ErrorContext(ctx, "failed to sweep stale claims", logger.Error(err))
	} else if len(stale) > 0 {
		m.Logger.WarnContext(ctx, "failed stale processing claims", logger.Count(len(stale)), slog.Duration("stale_after", m.StaleAfter))
	}

	ids, err := m.Units.RequeueFailed(ctx, maxRetries)
	if err != nil {
		m.Logger.ErrorContext(ctx, "failed to requeue failed units", logger.Error(err))
		return 0
	}
	metrics.Retries.Add(float64(len(ids)))
	if len(ids) > 0 {
		m.Logger.InfoContext(ctx, "requeued failed units", logger.Count(len(ids)), slog.Int("max_retries", maxRetries))
	}
	return len(ids)
}

type SentEventPruner interface {
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MinRetentionDays keeps every sent event the monthly rate window can count.
const MinRetentionDays = 31

// RetentionCleanup prunes old sent events. Only sent rows are removed; status
// derivation never reads them.
type RetentionCleanup struct {
	Events SentEventPruner
	Now    func() time.Time
	Logger *slog.Logger
}

func NewRetentionCleanup(events SentEventPruner, log *slog.Logger) *RetentionCleanup {
	return &RetentionCleanup{Events: events, Now: time.Now, Logger: log.With(logger.Component("retention"))}
}

func (c *RetentionCleanup) CleanupOldJobs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld < MinRetentionDays {
		return 0, fmt.Errorf("%w: %d days, need at least %d", appErrors.ErrRetentionWindowTooShort, daysOld, MinRetentionDays)
	}
	cutoff := c.Now().AddDate(0, 0, -daysOld)
	n, err := c.Events.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		c.Logger.ErrorContext(ctx, "retention cleanup failed", logger.Error(err))
		return 0, err
	}
	metrics.RetentionDeleted.Add(float64(n))
	c.Logger.InfoContext(ctx, "retention cleanup done", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return n, nil
}
