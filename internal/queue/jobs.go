package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

// TopicJobs carries pipeline jobs.
const TopicJobs = "mailer.jobs"

type JobKind string

const (
	JobProcessPending JobKind = "process_pending"
	JobRetryFailed    JobKind = "retry_failed"
	JobCleanup        JobKind = "cleanup"
)

// Job asks a worker to run one pipeline pass. Zero sizes fall back to the
// runner's defaults.
type Job struct {
	Kind       JobKind `json:"job"`
	BatchSize  int     `json:"batch_size,omitempty"`
	MaxRetries int     `json:"max_retries,omitempty"`
	DaysOld    int     `json:"days_old,omitempty"`
}

var ErrUnknownJob = errors.New("unknown job")

// DecodeJob accepts a Job value or its JSON encoding, which is what
// arrives over AMQP.
func DecodeJob(payload any) (Job, error) {
	switch p := payload.(type) {
	case Job:
		return p, nil
	case *Job:
		if p == nil {
			return Job{}, fmt.Errorf("%w: nil job", ErrUnknownJob)
		}
		return *p, nil
	case []byte:
		var j Job
		if err := json.Unmarshal(p, &j); err != nil {
			return Job{}, fmt.Errorf("%w: %v", ErrUnknownJob, err)
		}
		return j, nil
	}
	return Job{}, fmt.Errorf("%w: payload of type %T", ErrUnknownJob, payload)
}

type PendingProcessor interface {
	ProcessPendingJobs(ctx context.Context, batchSize int) int
}

type FailedRetrier interface {
	RetryFailedJobs(ctx context.Context, maxRetries int) int
}

type RetentionCleaner interface {
	CleanupOldJobs(ctx context.Context, daysOld int) (int64, error)
}

// JobRunner executes pipeline jobs taken off a queue.
type JobRunner struct {
	Scheduler     PendingProcessor
	Retrier       FailedRetrier
	Cleaner       RetentionCleaner
	BatchSize     int
	MaxRetries    int
	RetentionDays int
	Logger        *slog.Logger
}

// Run executes one job. Errors are returned only when a redelivery could
// succeed.
func (r *JobRunner) Run(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobProcessPending:
		size := job.BatchSize
		if size <= 0 {
			size = r.BatchSize
		}
		n := r.Scheduler.ProcessPendingJobs(ctx, size)
		r.Logger.InfoContext(ctx, "process job finished", logger.Count(n))
	case JobRetryFailed:
		maxRetries := job.MaxRetries
		if maxRetries <= 0 {
			maxRetries = r.MaxRetries
		}
		n := r.Retrier.RetryFailedJobs(ctx, maxRetries)
		r.Logger.InfoContext(ctx, "retry job finished", logger.Count(n))
	case JobCleanup:
		days := job.DaysOld
		if days <= 0 {
			days = r.RetentionDays
		}
		n, err := r.Cleaner.CleanupOldJobs(ctx, days)
		if errors.Is(err, appErrors.ErrRetentionWindowTooShort) {
			r.Logger.ErrorContext(ctx, "cleanup job rejected", slog.Int("days_old", days), logger.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		r.Logger.InfoContext(ctx, "cleanup job finished", slog.Int64("deleted", n))
	default:
		r.Logger.WarnContext(ctx, "dropping unknown job", slog.String("job", string(job.Kind)))
	}
	return nil
}

// StartJobSubscriber wires the runner to the jobs topic of q. Undecodable
// payloads are dropped.
func StartJobSubscriber(ctx context.Context, q Queue, runner *JobRunner) error {
	return q.Subscribe(TopicJobs, func(payload any) error {
		job, err := DecodeJob(payload)
		if err != nil {
			runner.Logger.WarnContext(ctx, "dropping undecodable job", logger.Error(err))
			return nil
		}
		return runner.Run(ctx, job)
	})
}
