package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// EmailEventRepositoryInterface is the append-only event log. There is no
// update method on purpose.
type EmailEventRepositoryInterface interface {
	Append(ctx context.Context, e *model.EmailEvent) error
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]model.EmailEvent, error)
	CountSentForOrg(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type EmailEventRepository struct {
	DB *sql.DB
}

func (r *EmailEventRepository) Append(ctx context.Context, e *model.EmailEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	meta, err := encodeStringMap(e.Metadata)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO email_events (id, campaign_id, contact_id, step_number, event_type, provider_message_id, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err = r.DB.ExecContext(ctx, query,
		e.ID, e.CampaignID, e.ContactID, e.StepNumber, e.EventType, e.ProviderMessageID, meta, e.CreatedAt,
	)
	return err
}

func (r *EmailEventRepository) ListByContact(ctx context.Context, contactID uuid.UUID) ([]model.EmailEvent, error) {
	query := `
        SELECT id, campaign_id, contact_id, step_number, event_type, provider_message_id, metadata, created_at
        FROM email_events
        WHERE contact_id = $1
        ORDER BY created_at
    `
	rows, err := r.DB.QueryContext(ctx, query, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.EmailEvent{}
	for rows.Next() {
		var e model.EmailEvent
		var meta []byte
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.ContactID, &e.StepNumber, &e.EventType, &e.ProviderMessageID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeStringMap(meta, &e.Metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountSentForOrg counts sent events of the org's campaigns in [from, to].
func (r *EmailEventRepository) CountSentForOrg(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM email_events e
        JOIN campaigns c ON c.id = e.campaign_id
        WHERE c.org_id = $1
          AND e.event_type = 'sent'
          AND e.created_at >= $2
          AND e.created_at <= $3
    `
	var count int
	err := r.DB.QueryRowContext(ctx, query, orgID, from, to).Scan(&count)
	return count, err
}

func (r *EmailEventRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM email_events WHERE event_type = 'sent' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ EmailEventRepositoryInterface = (*EmailEventRepository)(nil)
