package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/handler"
)

const requestTimeout = 30 * time.Second

type routes struct {
	campaigns *controller.CampaignController
	details   *handler.CampaignHandler
	webhooks  *handler.WebhookHandler
	tracking  *handler.TrackingHandler
	cron      *handler.CronHandler
	logger    *slog.Logger
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rt.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// the status stream is long lived and stays outside the timeout
	r.Get("/campaigns/{id}/status-stream", rt.details.StatusStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		// Campaign routes
		r.Post("/campaigns", rt.campaigns.CreateCampaign)
		r.Get("/campaigns/{id}", rt.details.GetCampaignHandlerWithStats)
		r.Post("/campaigns/{id}/contacts", rt.campaigns.AssignAudience)
		r.Post("/campaigns/{id}/personalized-preview", rt.campaigns.PersonalizedPreview)

		r.Post("/webhooks/email-events", rt.webhooks.EmailEvents)

		r.Get("/track/open/{token}", rt.tracking.Open)
		r.Get("/track/click/{token}", rt.tracking.Click)
		r.Get("/unsubscribe", rt.tracking.Unsubscribe)
		r.Post("/unsubscribe", rt.tracking.Unsubscribe)
	})

	// cron passes run a whole batch and get their own budget
	r.Get("/cron/process-emails", rt.cron.ProcessEmails)
	r.Post("/cron/process-emails", rt.cron.ProcessEmails)

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.DebugContext(r.Context(), "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
