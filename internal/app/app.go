// Package app builds the object graph shared by the server, the worker and
// mailerctl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
	"github.com/unclebandit/campaign-mailer/internal/webhook"
)

const (
	connectAttempts = 5
	connectInterval = 2 * time.Second
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *sql.DB
	Redis  *redis.Client

	Campaigns     *repository.CampaignRepository
	Contacts      *repository.ContactRepository
	Units         *repository.CampaignContactRepository
	Events        *repository.EmailEventRepository
	Organizations *repository.OrganizationRepository

	Links     *links.Signer
	Hub       *realtime.Hub
	Publisher realtime.Publisher

	CampaignService *service.CampaignService
	Processor       *service.JobProcessor
	Scheduler       *service.BatchScheduler
	Retrier         *service.RetryManager
	Cleanup         *service.RetentionCleanup
	Reconciler      *service.EventReconciler
}

// NewLogger builds the process logger from the environment settings.
func NewLogger(cfg *config.Config) *slog.Logger {
	return logger.New(logger.WithEnvironment(cfg.Env, cfg.Service))
}

// New connects to Postgres (and Redis when configured) and wires every
// service. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:        cfg,
		Logger:        log,
		DB:            conn,
		Campaigns:     &repository.CampaignRepository{DB: conn},
		Contacts:      &repository.ContactRepository{DB: conn},
		Units:         &repository.CampaignContactRepository{DB: conn},
		Events:        &repository.EmailEventRepository{DB: conn},
		Organizations: &repository.OrganizationRepository{DB: conn},
		Links:         links.NewSigner(cfg.LinkSecret, cfg.PublicBaseURL),
		Hub:           realtime.NewHub(),
	}
	a.Publisher = a.Hub

	if cfg.Redis.URL != "" {
		client, err := realtime.Connect(ctx, cfg.Redis.URL, connectAttempts, connectInterval)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		a.Redis = client
		a.Publisher = realtime.NewRedisPublisher(client)
	}

	dispatcher, err := NewDispatcher(cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if !a.Links.Enabled() {
		log.Warn("tracking links disabled; set PUBLIC_BASE_URL and LINK_SECRET to enable")
	}

	a.CampaignService = &service.CampaignService{
		CampaignRepo: a.Campaigns,
		ContactRepo:  a.Contacts,
		UnitRepo:     a.Units,
		Links:        a.Links,
		Now:          time.Now,
		Logger:       log.With(logger.Component("campaigns")),
	}
	a.Processor = &service.JobProcessor{
		Units:          a.Units,
		Campaigns:      a.Campaigns,
		Contacts:       a.Contacts,
		Events:         a.Events,
		Limiter:        service.NewRateLimiter(a.Organizations, a.Events, loc, log),
		Dispatcher:     dispatcher,
		Links:          a.Links,
		Publisher:      a.Publisher,
		RateLimitDelay: cfg.Pipeline.RateLimitDelay,
		Now:            time.Now,
		Logger:         log.With(logger.Component("processor")),
	}
	a.Scheduler = service.NewBatchScheduler(a.Units, a.Processor, cfg.Pipeline.BatchConcurrency, log)
	a.Retrier = service.NewRetryManager(a.Units, cfg.Pipeline.StaleClaimAfter, log)
	a.Cleanup = service.NewRetentionCleanup(a.Events, log)
	a.Reconciler = service.NewEventReconciler(
		a.Units,
		a.Events,
		a.Contacts,
		webhook.Verifier{Secret: cfg.WebhookSecret, MaxAge: cfg.WebhookMaxAge, Now: time.Now},
		a.Publisher,
		log,
	)
	return a, nil
}

// NewDispatcher picks Postmark when a server token is configured and the
// file-writing dev dispatcher otherwise. Production refuses to start without
// a token.
func NewDispatcher(cfg *config.Config, log *slog.Logger) (dispatch.Dispatcher, error) {
	if cfg.Mail.PostmarkServerToken == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required in production", config.ErrInvalidConfig)
		}
		log.Info("using dev mail dispatcher", slog.String("dir", cfg.Mail.DevMailDir))
		return dispatch.Chain(dispatch.NewDevDispatcher(cfg.Mail.DevMailDir), "dev", cfg.Pipeline.DispatchTimeout, cfg.Breaker), nil
	}

	pm, err := dispatch.NewPostmarkDispatcher(
		cfg.Mail.PostmarkServerToken,
		cfg.Mail.PostmarkAccountToken,
		cfg.Mail.MessageStream,
		cfg.Mail.DefaultFrom,
	)
	if err != nil {
		return nil, err
	}
	return dispatch.Chain(pm, "postmark", cfg.Pipeline.DispatchTimeout, cfg.Breaker), nil
}

// JobRunner executes queued pipeline jobs with the configured defaults.
func (a *App) JobRunner() *queue.JobRunner {
	return &queue.JobRunner{
		Scheduler:     a.Scheduler,
		Retrier:       a.Retrier,
		Cleaner:       a.Cleanup,
		BatchSize:     a.Config.Pipeline.BatchSize,
		MaxRetries:    a.Config.Pipeline.MaxRetries,
		RetentionDays: a.Config.Pipeline.RetentionDays,
		Logger:        a.Logger.With(logger.Component("jobs")),
	}
}

// Queue connects to AMQP when AMQP_URL is set. Without it jobs stay in
// process and the returned queue is an *queue.InMemoryQueue.
func (a *App) Queue(ctx context.Context) (queue.Queue, func() error, error) {
	if a.Config.AMQP.URL == "" {
		return queue.NewInMemoryQueue(a.Logger), func() error { return nil }, nil
	}
	conn, err := queue.DialAMQP(ctx, a.Config.AMQP.URL, connectAttempts, connectInterval)
	if err != nil {
		return nil, nil, err
	}
	q, err := queue.NewAMQPQueue(conn, map[string]string{queue.TopicJobs: a.Config.AMQP.Queue}, a.Config.AMQP.Prefetch, a.Logger)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return q, q.Close, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
