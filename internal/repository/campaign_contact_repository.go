package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// CampaignContactRepositoryInterface is everything the pipeline needs from the
// campaign_contacts table. Every status write is conditional on the current
// status so concurrent schedulers cannot both win.
type CampaignContactRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.CampaignContact, error)
	CreateIfNotExists(ctx context.Context, cc *model.CampaignContact) (*model.CampaignContact, bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from, to model.ContactStatus, lastError string) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, sentAt time.Time) (bool, error)
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RequeueFailed(ctx context.Context, maxRetries int) ([]uuid.UUID, error)
	FailStale(ctx context.Context, claimedBefore time.Time, reason string) ([]uuid.UUID, error)
	UpdateDerived(ctx context.Context, id uuid.UUID, derived model.ContactStatus, openedAt, clickedAt *time.Time) error
}

type CampaignContactRepository struct {
	DB *sql.DB
}

const campaignContactColumns = `
    id, campaign_id, contact_id, email, status, derived_status, scheduled_send_time,
    sent_at, opened_at, clicked_at, last_error, retry_count, last_provider_message_id,
    created_at, updated_at`

func scanCampaignContact(row interface{ Scan(...any) error }) (*model.CampaignContact, error) {
	var cc model.CampaignContact
	var derived sql.NullString
	err := row.Scan(
		&cc.ID, &cc.CampaignID, &cc.ContactID, &cc.Email, &cc.Status, &derived, &cc.ScheduledSendTime,
		&cc.SentAt, &cc.OpenedAt, &cc.ClickedAt, &cc.LastError, &cc.RetryCount, &cc.LastProviderMessageID,
		&cc.CreatedAt, &cc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cc.DerivedStatus = model.ContactStatus(derived.String)
	return &cc, nil
}

// GetByID fetches a campaign contact by its ID
func (r *CampaignContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CampaignContact, error) {
	query := `SELECT ` + campaignContactColumns + ` FROM campaign_contacts WHERE id=$1`
	cc, err := scanCampaignContact(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignContactNotFound(id)
		}
		return nil, err
	}
	return cc, nil
}

// Idempotent insert. Returns the existing row untouched when the contact is
// already part of the campaign; created reports whether a row was inserted.
func (r *CampaignContactRepository) CreateIfNotExists(ctx context.Context, cc *model.CampaignContact) (*model.CampaignContact, bool, error) {
	if cc.ID == uuid.Nil {
		cc.ID = uuid.New()
	}
	if cc.Status == "" {
		cc.Status = model.StatusPending
	}
	query := `
        INSERT INTO campaign_contacts (id, campaign_id, contact_id, email, status, scheduled_send_time, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING ` + campaignContactColumns
	created, err := scanCampaignContact(r.DB.QueryRowContext(ctx, query,
		cc.ID, cc.CampaignID, cc.ContactID, cc.Email, cc.Status, cc.ScheduledSendTime,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := scanCampaignContact(r.DB.QueryRowContext(ctx,
		`SELECT `+campaignContactColumns+` FROM campaign_contacts WHERE campaign_id=$1 AND contact_id=$2`,
		cc.CampaignID, cc.ContactID,
	))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ListDue returns pending units whose send time has come, oldest first.
func (r *CampaignContactRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
        SELECT id FROM campaign_contacts
        WHERE status = 'pending' AND scheduled_send_time <= $1
        ORDER BY scheduled_send_time ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim moves pending -> processing atomically. Only one caller can win.
func (r *CampaignContactRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
        UPDATE campaign_contacts
        SET status = 'processing', updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
        RETURNING id
    `
	var claimed uuid.UUID
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transition is a compare-and-swap on status.
func (r *CampaignContactRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.ContactStatus, lastError string) (bool, error) {
	query := `
        UPDATE campaign_contacts
        SET status = $3, last_error = $4, updated_at = NOW()
        WHERE id = $1 AND status = $2
    `
	res, err := r.DB.ExecContext(ctx, query, id, from, to, lastError)
	return affectedOne(res, err)
}

func (r *CampaignContactRepository) MarkSent(ctx context.Context, id uuid.UUID, messageID string, sentAt time.Time) (bool, error) {
	query := `
        UPDATE campaign_contacts
        SET status = 'sent', sent_at = $2, last_provider_message_id = $3, last_error = '', updated_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
	res, err := r.DB.ExecContext(ctx, query, id, sentAt, messageID)
	return affectedOne(res, err)
}

// Reschedule pushes the send time of a still-pending unit.
func (r *CampaignContactRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
        UPDATE campaign_contacts
        SET scheduled_send_time = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `
	res, err := r.DB.ExecContext(ctx, query, id, at)
	return affectedOne(res, err)
}

// RequeueFailed resets failed units that still have retries left.
func (r *CampaignContactRepository) RequeueFailed(ctx context.Context, maxRetries int) ([]uuid.UUID, error) {
	query := `
        UPDATE campaign_contacts
        SET status = 'pending', retry_count = retry_count + 1, updated_at = NOW()
        WHERE status = 'failed' AND retry_count < $1
        RETURNING id
    `
	rows, err := r.DB.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FailStale moves units stuck in processing since before claimedBefore to
// failed. Claim stamps updated_at, so it marks when the claim was taken.
func (r *CampaignContactRepository) FailStale(ctx context.Context, claimedBefore time.Time, reason string) ([]uuid.UUID, error) {
	query := `
        UPDATE campaign_contacts
        SET status = 'failed', last_error = $2, updated_at = NOW()
        WHERE status = 'processing' AND updated_at < $1
        RETURNING id
    `
	rows, err := r.DB.QueryContext(ctx, query, claimedBefore, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateDerived stores the overlay recomputed from the event log.
func (r *CampaignContactRepository) UpdateDerived(ctx context.Context, id uuid.UUID, derived model.ContactStatus, openedAt, clickedAt *time.Time) error {
	query := `
        UPDATE campaign_contacts
        SET derived_status = NULLIF($2, ''), opened_at = $3, clicked_at = $4, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id, string(derived), openedAt, clickedAt)
	return err
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ CampaignContactRepositoryInterface = (*CampaignContactRepository)(nil)
