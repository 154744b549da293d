// internal/model/organization.go
package model

import "github.com/google/uuid"

type Organization struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Plan string    `db:"subscription_plan" json:"subscription_plan"`
}

// PlanLimits are the static sending quotas of a plan tier.
type PlanLimits struct {
	EmailsPerHour  int `json:"emails_per_hour"`
	EmailsPerDay   int `json:"emails_per_day"`
	EmailsPerMonth int `json:"emails_per_month"`
}

const DefaultPlan = "starter"

// PlanLimitsByTier is the static rate limit table keyed by plan tier.
var PlanLimitsByTier = map[string]PlanLimits{
	"starter":    {EmailsPerHour: 50, EmailsPerDay: 200, EmailsPerMonth: 5000},
	"pro":        {EmailsPerHour: 200, EmailsPerDay: 1000, EmailsPerMonth: 25000},
	"enterprise": {EmailsPerHour: 1000, EmailsPerDay: 5000, EmailsPerMonth: 100000},
}
