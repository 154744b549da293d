package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

type OrganizationRepositoryInterface interface {
	GetPlan(ctx context.Context, orgID uuid.UUID) (string, error)
}

type OrganizationRepository struct {
	DB *sql.DB
}

func (r *OrganizationRepository) Create(ctx context.Context, o *model.Organization) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO organizations (id, name, subscription_plan) VALUES ($1, $2, $3)`,
		o.ID, o.Name, o.Plan,
	)
	return err
}

// GetPlan returns the org's subscription plan tier.
func (r *OrganizationRepository) GetPlan(ctx context.Context, orgID uuid.UUID) (string, error) {
	var plan string
	err := r.DB.QueryRowContext(ctx, `SELECT subscription_plan FROM organizations WHERE id=$1`, orgID).Scan(&plan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: organization %s not found", appErrors.ErrPlanLookup, orgID)
		}
		return "", errors.Join(appErrors.ErrPlanLookup, err)
	}
	return plan, nil
}

var _ OrganizationRepositoryInterface = (*OrganizationRepository)(nil)
