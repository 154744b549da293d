package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	Create(ctx context.Context, c *model.Contact) error
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	query := `
        SELECT id, org_id, email, first_name, last_name, company, phone, custom_fields, is_active
        FROM contacts
        WHERE id = $1
    `
	var c model.Contact
	var custom []byte
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrgID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Phone, &custom, &c.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrContactNotFound
		}
		return nil, err
	}
	if err := decodeStringMap(custom, &c.CustomFields); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	custom, err := encodeStringMap(c.CustomFields)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO contacts (id, org_id, email, first_name, last_name, company, phone, custom_fields, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err = r.DB.ExecContext(ctx, query,
		c.ID, c.OrgID, c.Email, c.FirstName, c.LastName, c.Company, c.Phone, custom, c.IsActive,
	)
	return err
}

// Deactivate stops all future sends to the contact.
func (r *ContactRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE contacts SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrContactNotFound
	}
	return nil
}

func encodeStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeStringMap(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
