package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mrz1836/postmark"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

type PostmarkDispatcher struct {
	client        *postmark.Client
	messageStream string
	defaultFrom   string
}

// NewPostmarkDispatcher requires the server token. The account token is
// optional; sending only uses the server API.
func NewPostmarkDispatcher(serverToken, accountToken, messageStream, defaultFrom string) (*PostmarkDispatcher, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", ErrInvalidConfig)
	}
	return &PostmarkDispatcher{
		client:        postmark.NewClient(serverToken, accountToken),
		messageStream: messageStream,
		defaultFrom:   defaultFrom,
	}, nil
}

// WithBaseURL points the client at another API host. Used by tests.
func (d *PostmarkDispatcher) WithBaseURL(url string) *PostmarkDispatcher {
	d.client.BaseURL = url
	return d
}

func (d *PostmarkDispatcher) Send(ctx context.Context, msg Message) (Result, error) {
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}

	from := msg.From
	if from == "" {
		from = d.defaultFrom
	}

	email := postmark.Email{
		From:     from,
		To:       msg.To,
		ReplyTo:  msg.ReplyTo,
		Subject:  msg.Subject,
		Tag:      "campaign",
		HTMLBody: msg.HTML,
		Metadata: map[string]string{
			TagCampaignID: msg.CampaignID.String(),
			TagContactID:  msg.ContactID.String(),
			TagStepNumber: strconv.Itoa(msg.StepNumber),
		},
		TrackOpens:    msg.TrackOpens,
		MessageStream: d.messageStream,
	}
	if msg.TrackClicks {
		email.TrackLinks = "HtmlOnly"
	}
	if msg.UnsubscribeURL != "" {
		email.Headers = []postmark.Header{
			{Name: "List-Unsubscribe", Value: "<" + msg.UnsubscribeURL + ">"},
			{Name: "List-Unsubscribe-Post", Value: "List-Unsubscribe=One-Click"},
		}
	}

	resp, err := d.client.SendEmail(ctx, email)
	if err != nil {
		return Result{}, errors.Join(appErrors.ErrDelivery, err)
	}
	if resp.ErrorCode > 0 {
		return Result{}, errors.Join(
			appErrors.ErrDelivery,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return Result{MessageID: resp.MessageID}, nil
}
