// internal/model/contact.go
package model

import "github.com/google/uuid"

// Contact is the org-level address book entry a CampaignContact points at.
type Contact struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	OrgID        uuid.UUID         `db:"org_id" json:"org_id"`
	Email        string            `db:"email" json:"email"`
	FirstName    string            `db:"first_name" json:"first_name"`
	LastName     string            `db:"last_name" json:"last_name"`
	Company      string            `db:"company" json:"company"`
	Phone        string            `db:"phone" json:"phone"`
	CustomFields map[string]string `db:"custom_fields" json:"custom_fields,omitempty"`
	IsActive     bool              `db:"is_active" json:"is_active"`
}
