package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// maximum accepted webhook body
const maxWebhookBody = 1 << 20

// EventIngester is satisfied by *service.EventReconciler.
type EventIngester interface {
	Ingest(ctx context.Context, body []byte, headers http.Header) (service.IngestResult, error)
}

type WebhookHandler struct {
	Reconciler EventIngester
	Logger     *slog.Logger
}

// EmailEvents accepts provider callbacks. Bad signatures get 401; anything
// else that cannot be processed is still acknowledged with 200.
func (h *WebhookHandler) EmailEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	res, err := h.Reconciler.Ingest(r.Context(), body, r.Header)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusUnauthorized {
			writeJSON(w, status, map[string]string{"error": "Invalid signature"})
			return
		}
		h.Logger.ErrorContext(r.Context(), "webhook processing failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook processing failed"})
		return
	}

	resp := map[string]any{"received": true}
	if res.EventType != "" {
		resp["eventType"] = res.EventType
	}
	if res.MessageID != "" {
		resp["messageId"] = res.MessageID
	}
	if res.Warning != "" {
		resp["warning"] = res.Warning
	}
	if res.Status != "" {
		resp["status"] = res.Status
	}
	writeJSON(w, http.StatusOK, resp)
}
