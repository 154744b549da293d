package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

// DevDispatcher writes messages to a directory instead of sending them.
type DevDispatcher struct {
	dir string
	now func() time.Time
}

func NewDevDispatcher(dir string) *DevDispatcher {
	return &DevDispatcher{dir: dir, now: time.Now}
}

type devMetadata struct {
	MessageID      string `json:"message_id"`
	Timestamp      string `json:"timestamp"`
	From           string `json:"from,omitempty"`
	To             string `json:"to"`
	ReplyTo        string `json:"reply_to,omitempty"`
	Subject        string `json:"subject"`
	CampaignID     string `json:"campaign_id"`
	ContactID      string `json:"contact_id"`
	StepNumber     int    `json:"step_number"`
	UnsubscribeURL string `json:"unsubscribe_url,omitempty"`
}

func (d *DevDispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: failed to create directory: %v", appErrors.ErrDelivery, err)
	}

	now := d.now()
	id := uuid.NewString()
	base := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), sanitizeFilename(msg.To), id[:8])

	if err := os.WriteFile(filepath.Join(d.dir, base+".html"), []byte(msg.HTML), 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: failed to write HTML file: %v", appErrors.ErrDelivery, err)
	}

	meta, err := json.MarshalIndent(devMetadata{
		MessageID:      id,
		Timestamp:      now.Format(time.RFC3339),
		From:           msg.From,
		To:             msg.To,
		ReplyTo:        msg.ReplyTo,
		Subject:        msg.Subject,
		CampaignID:     msg.CampaignID.String(),
		ContactID:      msg.ContactID.String(),
		StepNumber:     msg.StepNumber,
		UnsubscribeURL: msg.UnsubscribeURL,
	}, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to marshal metadata: %v", appErrors.ErrDelivery, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), meta, 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: failed to write JSON file: %v", appErrors.ErrDelivery, err)
	}
	return Result{MessageID: id}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, "@", "_at_")
	s = unsafeChars.ReplaceAllString(s, "")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
