package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// PlanResolver returns an org's plan tier.
type PlanResolver interface {
	GetPlan(ctx context.Context, orgID uuid.UUID) (string, error)
}

// SendCounter counts sent events of an org's campaigns inside a window.
type SendCounter interface {
	CountSentForOrg(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error)
}

type RateLimitResult struct {
	CanSend bool
	Reason  string
}

// RateLimiter checks hourly, daily and monthly send quotas. It is a soft
// limiter: counts are read fresh on every call and nothing is reserved.
type RateLimiter struct {
	Plans    PlanResolver
	Counter  SendCounter
	Limits   map[string]model.PlanLimits
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewRateLimiter(plans PlanResolver, counter SendCounter, loc *time.Location, log *slog.Logger) *RateLimiter {
	if loc == nil {
		loc = time.UTC
	}
	return &RateLimiter{
		Plans:    plans,
		Counter:  counter,
		Limits:   model.PlanLimitsByTier,
		Location: loc,
		Now:      time.Now,
		Logger:   log.With(logger.Component("rate_limiter")),
	}
}

type rateWindow struct {
	name  string
	unit  string
	start time.Time
	limit int
}

// CheckRateLimits evaluates hour, then day, then month; the first exhausted
// window wins. An org or plan that cannot be resolved fails open.
func (l *RateLimiter) CheckRateLimits(ctx context.Context, orgID uuid.UUID) RateLimitResult {
	plan, err := l.Plans.GetPlan(ctx, orgID)
	if err != nil {
		l.Logger.WarnContext(ctx, "plan lookup failed, allowing send", logger.OrgID(orgID), logger.Error(err))
		return RateLimitResult{CanSend: true}
	}
	if plan == "" {
		plan = model.DefaultPlan
	}
	limits, ok := l.Limits[plan]
	if !ok {
		l.Logger.WarnContext(ctx, "unknown plan, allowing send", logger.OrgID(orgID), slog.String("plan", plan))
		return RateLimitResult{CanSend: true}
	}

	now := l.Now().In(l.Location)
	for _, w := range windows(now, limits) {
		count, err := l.Counter.CountSentForOrg(ctx, orgID, w.start, now)
		if err != nil {
			l.Logger.WarnContext(ctx, "send count failed, allowing send",
				logger.OrgID(orgID), slog.String("window", w.name), logger.Error(err))
			return RateLimitResult{CanSend: true}
		}
		if count >= w.limit {
			return RateLimitResult{
				CanSend: false,
				Reason:  fmt.Sprintf("%s limit reached (%d/%s)", w.name, w.limit, w.unit),
			}
		}
	}
	return RateLimitResult{CanSend: true}
}

func windows(now time.Time, limits model.PlanLimits) []rateWindow {
	y, m, d := now.Date()
	loc := now.Location()
	return []rateWindow{
		{name: "Hourly", unit: "hour", start: time.Date(y, m, d, now.Hour(), 0, 0, 0, loc), limit: limits.EmailsPerHour},
		{name: "Daily", unit: "day", start: time.Date(y, m, d, 0, 0, 0, 0, loc), limit: limits.EmailsPerDay},
		{name: "Monthly", unit: "month", start: time.Date(y, m, 1, 0, 0, 0, 0, loc), limit: limits.EmailsPerMonth},
	}
}
