package service

import (
	"time"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// statusPriority lists lifecycle events from strongest to weakest. sent is
// not a lifecycle event and never appears here.
var statusPriority = []struct {
	event  model.EventType
	status model.ContactStatus
}{
	{model.EventClick, model.StatusClicked},
	{model.EventOpen, model.StatusOpened},
	{model.EventDelivery, model.StatusDelivered},
	{model.EventBounce, model.StatusBounced},
	{model.EventComplaint, model.StatusComplained},
	{model.EventUnsubscribe, model.StatusUnsubscribed},
}

// DeriveStatus picks the highest-priority lifecycle event present in the log,
// falling back to stored. Only the set of event types matters, so the result
// is the same for any ordering or duplication of events.
func DeriveStatus(events []model.EmailEvent, stored model.ContactStatus) model.ContactStatus {
	if derived := derivedOverlay(events); derived != "" {
		return derived
	}
	return stored
}

// derivedOverlay is DeriveStatus without the fallback; empty when the log has
// no lifecycle event.
func derivedOverlay(events []model.EmailEvent) model.ContactStatus {
	present := make(map[model.EventType]bool, len(events))
	for _, e := range events {
		present[e.EventType] = true
	}
	for _, p := range statusPriority {
		if present[p.event] {
			return p.status
		}
	}
	return ""
}

// firstEngagement returns the earliest open and click times in the log.
func firstEngagement(events []model.EmailEvent) (openedAt, clickedAt *time.Time) {
	for i := range events {
		at := events[i].CreatedAt
		switch events[i].EventType {
		case model.EventOpen:
			if openedAt == nil || at.Before(*openedAt) {
				openedAt = &at
			}
		case model.EventClick:
			if clickedAt == nil || at.Before(*clickedAt) {
				clickedAt = &at
			}
		}
	}
	return openedAt, clickedAt
}
