package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

func newProcessCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one processing pass over due recipients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if batch <= 0 {
					batch = a.Config.Pipeline.BatchSize
				}
				n := a.Scheduler.ProcessPendingJobs(ctx, batch)
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "batch size (defaults to BATCH_SIZE)")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed recipients under the retry limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if maxRetries <= 0 {
					maxRetries = a.Config.Pipeline.MaxRetries
				}
				n := a.Retrier.RetryFailedJobs(ctx, maxRetries)
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max", 0, "max retries (defaults to MAX_RETRIES)")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sent events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if days <= 0 {
					days = a.Config.Pipeline.RetentionDays
				}
				n, err := a.Cleanup.CleanupOldJobs(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to RETENTION_DAYS)")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var job queue.Job
	cmd := &cobra.Command{
		Use:       "enqueue [process_pending|retry_failed|cleanup]",
		Short:     "Publish a pipeline job for the workers",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(queue.JobProcessPending), string(queue.JobRetryFailed), string(queue.JobCleanup)},
		RunE: func(cmd *cobra.Command, args []string) error {
			job.Kind = queue.JobKind(args[0])
			switch job.Kind {
			case queue.JobProcessPending, queue.JobRetryFailed, queue.JobCleanup:
			default:
				return fmt.Errorf("%w: %s", queue.ErrUnknownJob, args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.AMQP.URL == "" {
					return fmt.Errorf("AMQP_URL is not set; nothing would consume the job")
				}
				jobs, closeJobs, err := a.Queue(ctx)
				if err != nil {
					return err
				}
				defer closeJobs()
				if err := jobs.Publish(queue.TopicJobs, job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", job.Kind)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&job.BatchSize, "batch", 0, "batch size for process_pending")
	cmd.Flags().IntVar(&job.MaxRetries, "max", 0, "max retries for retry_failed")
	cmd.Flags().IntVar(&job.DaysOld, "days", 0, "retention days for cleanup")
	return cmd
}
