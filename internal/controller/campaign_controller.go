// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	// Jobs is optional; when set, assigning contacts kicks a processing pass
	Jobs   queue.Queue
	Logger *slog.Logger
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrMissingSequenceStep):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCampaign), errors.Is(err, appErrors.ErrTemplateDataMissing):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		c.Logger.ErrorContext(r.Context(), "campaign request failed", slog.String("path", r.URL.Path), logger.Error(err))
		respond(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	respond(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	respond(w, http.StatusBadRequest, map[string]string{"error": msg})
}

type stepBody struct {
	StepNumber      int    `json:"step_number"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
	DelayMinutes    int    `json:"delay_minutes"`
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrgID       uuid.UUID  `json:"org_id"`
		Name        string     `json:"name"`
		FromName    string     `json:"from_name"`
		FromEmail   string     `json:"from_email"`
		ReplyTo     string     `json:"reply_to"`
		TrackOpens  bool       `json:"track_opens"`
		TrackClicks bool       `json:"track_clicks"`
		Steps       []stepBody `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	campaign := &model.Campaign{
		OrgID:       body.OrgID,
		Name:        body.Name,
		FromName:    body.FromName,
		FromEmail:   body.FromEmail,
		ReplyTo:     body.ReplyTo,
		TrackOpens:  body.TrackOpens,
		TrackClicks: body.TrackClicks,
	}
	for _, s := range body.Steps {
		campaign.Steps = append(campaign.Steps, model.SequenceStep{
			StepNumber:      s.StepNumber,
			SubjectTemplate: s.SubjectTemplate,
			BodyTemplate:    s.BodyTemplate,
			Delay:           time.Duration(s.DelayMinutes) * time.Minute,
		})
	}

	if err := c.CampaignService.CreateCampaign(r.Context(), campaign); err != nil {
		c.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, campaign)
}

// AssignAudience enrolls contacts and, when a queue is configured, asks a
// worker to pick them up once they are due.
func (c *CampaignController) AssignAudience(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid campaign id")
		return
	}

	var body struct {
		ContactIDs []uuid.UUID `json:"contact_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.ContactIDs) == 0 {
		badRequest(w, "contact_ids is required")
		return
	}

	result, err := c.CampaignService.AssignAudience(r.Context(), campaignID, body.ContactIDs)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	queued := false
	if c.Jobs != nil && result.Created > 0 {
		if err := c.Jobs.Publish(queue.TopicJobs, queue.Job{Kind: queue.JobProcessPending}); err != nil {
			c.Logger.WarnContext(r.Context(), "failed to enqueue processing job", logger.CampaignID(campaignID), logger.Error(err))
		} else {
			queued = true
		}
	}

	respond(w, http.StatusOK, map[string]any{
		"campaign_id": result.CampaignID,
		"created":     result.Created,
		"existing":    result.Existing,
		"missing":     result.Missing,
		"queued":      queued,
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid campaign id")
		return
	}

	var body struct {
		ContactID        uuid.UUID `json:"contact_id"`
		StepNumber       int       `json:"step_number"`
		OverrideTemplate *string   `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.ContactID, body.StepNumber, body.OverrideTemplate)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"subject":           preview.Subject,
		"rendered_message":  preview.Body,
		"step_number":       preview.StepNumber,
		"unknown_variables": preview.UnknownVariables,
		"used_template":     body.OverrideTemplate,
		"contact_id":        body.ContactID,
	})
}
