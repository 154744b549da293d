// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logr := app.NewLogger(cfg)

	if err := run(cfg, logr); err != nil {
		logr.Error("server stopped", logger.Error(err))
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

	if err := db.Migrate(ctx, a.DB, cfg.DB.MigrationsTable, logr); err != nil {
		return err
	}

	jobs, closeJobs, err := a.Queue(ctx)
	if err != nil {
		return err
	}
	defer closeJobs()
	if mem, ok := jobs.(*queue.InMemoryQueue); ok {
		// no broker: run queued jobs in this process
		if err := queue.StartJobSubscriber(ctx, mem, a.JobRunner()); err != nil {
			return err
		}
	}

	var updates handler.StatusSubscriber = a.Hub
	if a.Redis != nil {
		manager := realtime.NewManager(a.Redis, logr)
		if err := manager.Start(ctx); err != nil {
			return err
		}
		defer manager.Stop()
		updates = manager
	}

	rt := routes{
		campaigns: &controller.CampaignController{CampaignService: a.CampaignService, Jobs: jobs, Logger: logr},
		details:   &handler.CampaignHandler{Service: a.CampaignService, Updates: updates, Logger: logr},
		webhooks:  &handler.WebhookHandler{Reconciler: a.Reconciler, Logger: logr},
		tracking:  &handler.TrackingHandler{Recorder: a.Reconciler, Links: a.Links, Logger: logr},
		cron: &handler.CronHandler{
			Secret:        cfg.CronSecret,
			Scheduler:     a.Scheduler,
			Retrier:       a.Retrier,
			Cleaner:       a.Cleanup,
			BatchSize:     cfg.Pipeline.BatchSize,
			MaxRetries:    cfg.Pipeline.MaxRetries,
			RetentionDays: cfg.Pipeline.RetentionDays,
			Logger:        logr,
		},
		logger: logr,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("🚀 Server running", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
