package handler

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// EngagementRecorder is satisfied by *service.EventReconciler.
type EngagementRecorder interface {
	TrackOpen(ctx context.Context, t links.Target, meta map[string]string) (model.ContactStatus, error)
	TrackClick(ctx context.Context, t links.Target, url string, meta map[string]string) (model.ContactStatus, error)
	Unsubscribe(ctx context.Context, campaignID, contactID uuid.UUID, meta map[string]string) (model.ContactStatus, error)
}

type TrackingHandler struct {
	Recorder EngagementRecorder
	Links    *links.Signer
	Logger   *slog.Logger
}

// 1x1 transparent GIF
var pixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

func requestMeta(r *http.Request) map[string]string {
	meta := map[string]string{}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip != "" {
		meta["ip"] = ip
	}
	return meta
}

// Open always answers with the pixel; recording problems are only logged.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	if target, err := h.Links.ParseToken(chi.URLParam(r, "token")); err == nil {
		if _, err := h.Recorder.TrackOpen(r.Context(), target, requestMeta(r)); err != nil {
			h.Logger.WarnContext(r.Context(), "failed to record open", logger.CampaignContactID(target.ContactID), logger.Error(err))
		}
	} else {
		h.Logger.DebugContext(r.Context(), "ignoring open with bad token", logger.Error(err))
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

// Click always redirects: to the signed destination when it is an absolute
// http(s) URL, to / otherwise.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dest := q.Get("url")
	u, err := url.Parse(dest)
	if dest == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	target, err := h.Links.VerifyClick(chi.URLParam(r, "token"), dest, q.Get("sig"))
	if err != nil {
		h.Logger.DebugContext(r.Context(), "refusing click with bad signature", logger.Error(err))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if _, err := h.Recorder.TrackClick(r.Context(), target, dest, requestMeta(r)); err != nil {
		h.Logger.WarnContext(r.Context(), "failed to record click", logger.CampaignContactID(target.ContactID), logger.Error(err))
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

const unsubscribedPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body><p>You have been unsubscribed.</p></body></html>`

// Unsubscribe handles the link click (GET) and one-click List-Unsubscribe
// posts (POST).
func (h *TrackingHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	campaignID, err1 := uuid.Parse(q.Get("campaign"))
	contactID, err2 := uuid.Parse(q.Get("contact"))
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid unsubscribe link"})
		return
	}
	if err := h.Links.VerifyUnsubscribe(campaignID, contactID, q.Get("token")); err != nil {
		writeError(w, err)
		return
	}

	meta := requestMeta(r)
	meta["method"] = "link"
	if r.Method == http.MethodPost {
		meta["method"] = "one_click"
	}
	if _, err := h.Recorder.Unsubscribe(r.Context(), campaignID, contactID, meta); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to record unsubscribe", logger.CampaignContactID(contactID), logger.Error(err))
		writeError(w, err)
		return
	}

	if r.Method == http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, unsubscribedPage)
}
