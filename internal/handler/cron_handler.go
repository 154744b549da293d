package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/logger"
)

type PendingProcessor interface {
	ProcessPendingJobs(ctx context.Context, batchSize int) int
}

type FailedRetrier interface {
	RetryFailedJobs(ctx context.Context, maxRetries int) int
}

type RetentionCleaner interface {
	CleanupOldJobs(ctx context.Context, daysOld int) (int64, error)
}

// CronHandler lets an external scheduler drive the pipeline.
type CronHandler struct {
	Secret        string
	Scheduler     PendingProcessor
	Retrier       FailedRetrier
	Cleaner       RetentionCleaner
	BatchSize     int
	MaxRetries    int
	RetentionDays int
	Logger        *slog.Logger
}

// authorized compares the bearer token in constant time. An unset secret
// locks the endpoint.
func (h *CronHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + h.Secret
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h *CronHandler) ProcessEmails(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	ctx := r.Context()

	processed := h.Scheduler.ProcessPendingJobs(ctx, h.BatchSize)
	retried := h.Retrier.RetryFailedJobs(ctx, h.MaxRetries)

	var cleaned int64
	if r.URL.Query().Get("cleanup") == "true" {
		n, err := h.Cleaner.CleanupOldJobs(ctx, h.RetentionDays)
		if err != nil {
			h.Logger.ErrorContext(ctx, "cron cleanup failed", logger.Error(err))
			writeJSON(w, statusFor(err), map[string]any{
				"success":        false,
				"error":          err.Error(),
				"processedCount": processed,
				"retriedCount":   retried,
				"cleanedCount":   0,
				"timestamp":      time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		cleaned = n
	}

	h.Logger.InfoContext(ctx, "cron run finished",
		slog.Int("processed", processed),
		slog.Int("retried", retried),
		slog.Int64("cleaned", cleaned),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"processedCount": processed,
		"retriedCount":   retried,
		"cleanedCount":   cleaned,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"metrics": map[string]any{
			"batchSize":      h.BatchSize,
			"processingMode": "bulk",
		},
	})
}
