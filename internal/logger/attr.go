package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func CampaignID(id any) slog.Attr {
	return slog.Any("campaign_id", id)
}

func CampaignContactID(id any) slog.Attr {
	return slog.Any("campaign_contact_id", id)
}

func OrgID(id any) slog.Attr {
	return slog.Any("org_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func MessageID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("message_id", id)
}

func Outcome(o string) slog.Attr {
	return slog.String("outcome", o)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
