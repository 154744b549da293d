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

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID uuid.UUID, status string) error
	GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

// Create inserts the campaign and its sequence steps in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = "draft"
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns (id, org_id, name, status, from_name, from_email, reply_to, track_opens, track_clicks, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	if _, err := tx.ExecContext(ctx, query,
		c.ID, c.OrgID, c.Name, c.Status, c.FromName, c.FromEmail, c.ReplyTo, c.TrackOpens, c.TrackClicks, c.CreatedAt,
	); err != nil {
		return err
	}

	stepQuery := `
        INSERT INTO sequence_steps (id, campaign_id, step_number, subject_template, body_template, delay_minutes)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for i := range c.Steps {
		s := &c.Steps[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CampaignID = c.ID
		if _, err := tx.ExecContext(ctx, stepQuery,
			s.ID, s.CampaignID, s.StepNumber, s.SubjectTemplate, s.BodyTemplate, int(s.Delay/time.Minute),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID uuid.UUID, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, status, time.Now(), campaignID)
	return err
}

// GetByID loads the campaign together with its ordered sequence steps.
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `
        SELECT id, org_id, name, status, from_name, from_email, reply_to, track_opens, track_clicks, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrgID, &c.Name, &c.Status, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.TrackOpens, &c.TrackClicks, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}

	steps, err := r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

func (r *CampaignRepository) listSteps(ctx context.Context, campaignID uuid.UUID) ([]model.SequenceStep, error) {
	query := `
        SELECT id, campaign_id, step_number, subject_template, body_template, delay_minutes
        FROM sequence_steps
        WHERE campaign_id=$1
        ORDER BY step_number
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.SequenceStep{}
	for rows.Next() {
		var s model.SequenceStep
		var delayMinutes int
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StepNumber, &s.SubjectTemplate, &s.BodyTemplate, &delayMinutes); err != nil {
			return nil, err
		}
		s.Delay = time.Duration(delayMinutes) * time.Minute
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// GetCampaignStats counts recipients per effective status.
func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	query := `
        SELECT COALESCE(derived_status, status) AS effective, COUNT(*)
        FROM campaign_contacts
        WHERE campaign_id=$1
        GROUP BY effective
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
