package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type orgCreator interface {
	Create(ctx context.Context, o *model.Organization) error
}

type contactCreator interface {
	Create(ctx context.Context, c *model.Contact) error
}

type campaignSeeder interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	AssignAudience(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) (*service.AssignResult, error)
}

type seedOptions struct {
	Plan     string
	Contacts int
	Domain   string
	From     string
}

type seedResult struct {
	OrgID      uuid.UUID
	CampaignID uuid.UUID
	ContactIDs []uuid.UUID
}

var seedNames = []struct{ first, last, company string }{
	{"Alice", "Wanjiru", "Acme"},
	{"Brian", "Otieno", "Globex"},
	{"Carol", "Mwangi", ""},
	{"David", "Kamau", "Initech"},
	{"Esther", "Njeri", "Umbrella"},
}

// seed creates an organization, an address book and a two step campaign
// with every contact enrolled.
func seed(ctx context.Context, orgs orgCreator, contacts contactCreator, campaigns campaignSeeder, opts seedOptions) (*seedResult, error) {
	org := &model.Organization{Name: "Demo Org", Plan: opts.Plan}
	if err := orgs.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	res := &seedResult{OrgID: org.ID}

	for i := range opts.Contacts {
		n := seedNames[i%len(seedNames)]
		c := &model.Contact{
			OrgID:     org.ID,
			Email:     fmt.Sprintf("%s.%d@%s", n.first, i+1, opts.Domain),
			FirstName: n.first,
			LastName:  n.last,
			Company:   n.company,
			CustomFields: map[string]string{
				"plan": opts.Plan,
			},
			// every fifth contact exercises the inactive path
			IsActive: (i+1)%5 != 0,
		}
		if err := contacts.Create(ctx, c); err != nil {
			return nil, fmt.Errorf("create contact %s: %w", c.Email, err)
		}
		res.ContactIDs = append(res.ContactIDs, c.ID)
	}

	campaign := &model.Campaign{
		OrgID:       org.ID,
		Name:        "Welcome sequence",
		FromName:    "Demo Team",
		FromEmail:   opts.From,
		TrackOpens:  true,
		TrackClicks: true,
		Steps: []model.SequenceStep{
			{
				StepNumber:      1,
				SubjectTemplate: "Welcome aboard, {{first_name}}",
				BodyTemplate: `<html><body><p>Hi {{first_name}},</p>
<p>Thanks for joining us from {{company}}. You are on the {{custom.plan}} plan.</p>
<p><a href="https://example.com/getting-started">Get started</a></p>
<p><a href="{{unsubscribe_url}}">Unsubscribe</a></p></body></html>`,
			},
			{
				StepNumber:      2,
				SubjectTemplate: "A few tips for {{company}}",
				BodyTemplate:    `<p>Hi {{first_name}}, here are three tips.</p><p><a href="{{unsubscribe_url}}">Unsubscribe</a></p>`,
			},
		},
	}
	if err := campaigns.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	res.CampaignID = campaign.ID

	if len(res.ContactIDs) > 0 {
		if _, err := campaigns.AssignAudience(ctx, campaign.ID, res.ContactIDs); err != nil {
			return nil, fmt.Errorf("assign audience: %w", err)
		}
	}
	return res, nil
}

func printSeed(w io.Writer, res *seedResult) {
	fmt.Fprintf(w, "ORG_ID=%s\n", res.OrgID)
	fmt.Fprintf(w, "CAMPAIGN_ID=%s\n", res.CampaignID)
	for _, id := range res.ContactIDs {
		fmt.Fprintf(w, "CONTACT_ID=%s\n", id)
	}
}

func newSeedCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo organization, contacts and campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := model.PlanLimitsByTier[opts.Plan]; !ok {
				return fmt.Errorf("unknown plan %q", opts.Plan)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := seed(ctx, a.Organizations, a.Contacts, a.CampaignService, opts)
				if err != nil {
					return err
				}
				printSeed(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Plan, "plan", model.DefaultPlan, "subscription plan of the demo org")
	cmd.Flags().IntVar(&opts.Contacts, "contacts", 5, "number of contacts to create")
	cmd.Flags().StringVar(&opts.Domain, "domain", "example.com", "email domain for generated contacts")
	cmd.Flags().StringVar(&opts.From, "from", "hello@example.com", "sender address of the demo campaign")
	return cmd
}
