package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/webhook"
)

// SignatureVerifier is satisfied by webhook.Verifier.
type SignatureVerifier interface {
	Verify(payload []byte, h http.Header) error
}

// ContactDeactivator is satisfied by *repository.ContactRepository.
type ContactDeactivator interface {
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// EventReconciler appends lifecycle events to the log and recomputes the
// recipient's derived status from the whole log every time. An unsubscribe
// also deactivates the contact so no later campaign reaches them.
type EventReconciler struct {
	Units     repository.CampaignContactRepositoryInterface
	Events    repository.EmailEventRepositoryInterface
	Contacts  ContactDeactivator
	Verifier  SignatureVerifier
	Publisher realtime.Publisher
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewEventReconciler(
	units repository.CampaignContactRepositoryInterface,
	events repository.EmailEventRepositoryInterface,
	contacts ContactDeactivator,
	verifier SignatureVerifier,
	publisher realtime.Publisher,
	log *slog.Logger,
) *EventReconciler {
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	return &EventReconciler{
		Units:     units,
		Events:    events,
		Contacts:  contacts,
		Verifier:  verifier,
		Publisher: publisher,
		Now:       time.Now,
		Logger:    log.With(logger.Component("reconciler")),
	}
}

// IngestResult describes what happened to an accepted webhook.
type IngestResult struct {
	Processed bool
	EventType string
	MessageID string
	Warning   string
	Status    model.ContactStatus
}

// Ingest verifies, decodes and records one webhook delivery. Only signature
// failures and storage errors are returned; anything unprocessable is
// acknowledged with a warning so the provider stops retrying.
func (r *EventReconciler) Ingest(ctx context.Context, body []byte, headers http.Header) (IngestResult, error) {
	if err := r.Verifier.Verify(body, headers); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		r.Logger.WarnContext(ctx, "webhook rejected", logger.Error(err))
		return IngestResult{}, err
	}

	ev, err := webhook.Parse(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "ignored").Inc()
		r.Logger.WarnContext(ctx, "ignoring malformed webhook", logger.Error(err))
		return IngestResult{Warning: "Invalid payload"}, nil
	}
	res := IngestResult{EventType: ev.Type, MessageID: ev.Data.ID}

	corr, err := ev.Correlation()
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "ignored").Inc()
		r.Logger.WarnContext(ctx, "webhook missing correlation tags",
			logger.EventType(ev.Type), logger.MessageID(ev.Data.ID), logger.Error(err))
		res.Warning = "Missing required tags"
		return res, nil
	}

	eventType, ok := ev.EventType()
	if !ok {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "ignored").Inc()
		r.Logger.InfoContext(ctx, "unhandled webhook event type", logger.EventType(ev.Type))
		res.Warning = "Unhandled event type"
		return res, nil
	}

	occurred := ev.CreatedAt
	if occurred.IsZero() {
		occurred = r.Now()
	}
	status, err := r.Record(ctx, &model.EmailEvent{
		CampaignID:        corr.CampaignID,
		ContactID:         corr.ContactID,
		StepNumber:        corr.StepNumber,
		EventType:         eventType,
		ProviderMessageID: ev.Data.ID,
		Metadata:          ev.Metadata(),
		CreatedAt:         occurred,
	})
	switch {
	case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrMissingCorrelationTags):
		metrics.WebhookEvents.WithLabelValues(string(eventType), "ignored").Inc()
		r.Logger.WarnContext(ctx, "webhook for unknown recipient",
			logger.CampaignContactID(corr.ContactID), logger.CampaignID(corr.CampaignID), logger.Error(err))
		res.Warning = "Unknown campaign contact"
		return res, nil
	case err != nil:
		metrics.WebhookEvents.WithLabelValues(string(eventType), "error").Inc()
		return res, err
	}

	metrics.WebhookEvents.WithLabelValues(string(eventType), "processed").Inc()
	res.Processed = true
	res.Status = status
	return res, nil
}

// Record appends e and stores the recomputed derived status. It returns the
// effective status after the append.
func (r *EventReconciler) Record(ctx context.Context, e *model.EmailEvent) (model.ContactStatus, error) {
	cc, err := r.Units.GetByID(ctx, e.ContactID)
	if err != nil {
		return "", err
	}
	if cc.CampaignID != e.CampaignID {
		return "", fmt.Errorf("%w: contact %s is not part of campaign %s", appErrors.ErrMissingCorrelationTags, e.ContactID, e.CampaignID)
	}

	if err := r.Events.Append(ctx, e); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	if e.EventType == model.EventUnsubscribe && r.Contacts != nil {
		if err := r.Contacts.Deactivate(ctx, cc.ContactID); err != nil && !errors.Is(err, appErrors.ErrContactNotFound) {
			return "", fmt.Errorf("deactivate contact: %w", err)
		}
	}
	return r.Recompute(ctx, cc, e.EventType)
}

// Recompute rebuilds the derived status from the full log. Calling it again
// with an unchanged log is a no-op in effect.
func (r *EventReconciler) Recompute(ctx context.Context, cc *model.CampaignContact, cause model.EventType) (model.ContactStatus, error) {
	events, err := r.Events.ListByContact(ctx, cc.ID)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}

	derived := derivedOverlay(events)
	openedAt, clickedAt := firstEngagement(events)
	if err := r.Units.UpdateDerived(ctx, cc.ID, derived, openedAt, clickedAt); err != nil {
		return "", fmt.Errorf("update derived status: %w", err)
	}

	status := DeriveStatus(events, cc.Status)
	r.Logger.DebugContext(ctx, "derived status recomputed",
		logger.CampaignContactID(cc.ID), logger.EventType(string(cause)), slog.String("status", string(status)))

	u := realtime.Update{CampaignID: cc.CampaignID, ContactID: cc.ID, Status: status, EventType: cause, At: r.Now()}
	if err := r.Publisher.Publish(ctx, u); err != nil {
		r.Logger.WarnContext(ctx, "failed to publish status update", logger.CampaignContactID(cc.ID), logger.Error(err))
	}
	return status, nil
}

// TrackOpen records a hit on the open pixel.
func (r *EventReconciler) TrackOpen(ctx context.Context, t links.Target, meta map[string]string) (model.ContactStatus, error) {
	return r.Record(ctx, r.engagement(t, model.EventOpen, meta))
}

// TrackClick records a redirect through a tracked link.
func (r *EventReconciler) TrackClick(ctx context.Context, t links.Target, url string, meta map[string]string) (model.ContactStatus, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["url"] = url
	return r.Record(ctx, r.engagement(t, model.EventClick, meta))
}

// Unsubscribe records an opt-out from the unsubscribe link.
func (r *EventReconciler) Unsubscribe(ctx context.Context, campaignID, contactID uuid.UUID, meta map[string]string) (model.ContactStatus, error) {
	return r.Record(ctx, r.engagement(links.Target{CampaignID: campaignID, ContactID: contactID, StepNumber: firstStep}, model.EventUnsubscribe, meta))
}

func (r *EventReconciler) engagement(t links.Target, typ model.EventType, meta map[string]string) *model.EmailEvent {
	return &model.EmailEvent{
		CampaignID: t.CampaignID,
		ContactID:  t.ContactID,
		StepNumber: t.StepNumber,
		EventType:  typ,
		Metadata:   meta,
		CreatedAt:  r.Now(),
	}
}
