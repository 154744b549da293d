// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type CampaignDetailer interface {
	GetCampaignDetailsWithStats(ctx context.Context, campaignID uuid.UUID) (*service.CampaignDetails, error)
}

// StatusSubscriber is satisfied by *realtime.Hub and *realtime.Manager.
type StatusSubscriber interface {
	Subscribe(campaignID uuid.UUID) (<-chan realtime.Update, func())
}

// CampaignHandler serves read-side campaign endpoints.
type CampaignHandler struct {
	Service   CampaignDetailer
	Updates   StatusSubscriber
	Heartbeat time.Duration
	Logger    *slog.Logger
}

func campaignIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// GetCampaignHandlerWithStats returns the campaign, its sequence and a count
// of recipients per effective status.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.Logger.ErrorContext(r.Context(), "failed to load campaign", logger.CampaignID(id), logger.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// StatusStream pushes status changes for one campaign as server-sent events
// until the client disconnects.
func (h *CampaignHandler) StatusStream(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	updates, release := h.Updates.Subscribe(id)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case u, open := <-updates:
			if !open {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				h.Logger.WarnContext(r.Context(), "failed to encode status update", logger.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
