package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logr := app.NewLogger(cfg).With(logger.Component("worker"))

	if err := run(cfg, logr); err != nil {
		logr.Error("worker stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logr *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, closeJobs, err := a.Queue(ctx)
	if err != nil {
		return err
	}
	defer closeJobs()

	if err := queue.StartJobSubscriber(ctx, jobs, a.JobRunner()); err != nil {
		return err
	}

	logr.Info("Worker running, waiting for jobs...")
	runSchedule(ctx, jobs, cfg.Schedule, logr)

	if mem, ok := jobs.(*queue.InMemoryQueue); ok {
		mem.Wait()
	}
	return nil
}

// runSchedule enqueues the periodic pipeline jobs until ctx is done. A zero
// interval disables that job.
func runSchedule(ctx context.Context, jobs queue.Queue, sched config.ScheduleConfig, logr *slog.Logger) {
	type entry struct {
		kind  queue.JobKind
		every time.Duration
	}
	entries := []entry{
		{queue.JobProcessPending, sched.ProcessEvery},
		{queue.JobRetryFailed, sched.RetryEvery},
		{queue.JobCleanup, sched.CleanupEvery},
	}

	tickers := make([]*time.Ticker, len(entries))
	cases := make([]<-chan time.Time, len(entries))
	for i, e := range entries {
		if e.every <= 0 {
			continue
		}
		tickers[i] = time.NewTicker(e.every)
		cases[i] = tickers[i].C
	}
	defer func() {
		for _, t := range tickers {
			if t != nil {
				t.Stop()
			}
		}
	}()

	enqueue := func(kind queue.JobKind) {
		if err := jobs.Publish(queue.TopicJobs, queue.Job{Kind: kind}); err != nil {
			logr.WarnContext(ctx, "failed to enqueue scheduled job", slog.String("job", string(kind)), logger.Error(err))
		}
	}

	// a nil channel never fires, so disabled entries drop out of the select
	for {
		select {
		case <-ctx.Done():
			return
		case <-cases[0]:
			enqueue(entries[0].kind)
		case <-cases[1]:
			enqueue(entries[1].kind)
		case <-cases[2]:
			enqueue(entries[2].kind)
		}
	}
}
