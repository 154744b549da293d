// Package links builds and verifies the signed URLs embedded in outgoing
// mail: the open pixel, click redirects and the unsubscribe link.
package links

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

// Target identifies the unit and step a link belongs to.
type Target struct {
	CampaignID uuid.UUID
	ContactID  uuid.UUID // campaign_contacts.id
	StepNumber int
}

type Signer struct {
	secret  []byte
	baseURL string
}

func NewSigner(secret, baseURL string) *Signer {
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

// Enabled reports whether absolute links can be built at all.
func (s *Signer) Enabled() bool {
	return s.baseURL != "" && len(s.secret) > 0
}

func (s *Signer) mac(parts ...string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(h.Sum(nil))
}

// Token encodes t as base64url(campaign.contact.step).signature.
func (s *Signer) Token(t Target) string {
	payload := fmt.Sprintf("%s.%s.%d", t.CampaignID, t.ContactID, t.StepNumber)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.mac("track", payload)
}

func (s *Signer) ParseToken(token string) (Target, error) {
	t, _, err := s.parse(token)
	return t, err
}

// VerifyClick checks the token and that dest is the destination it was
// issued for.
func (s *Signer) VerifyClick(token, dest, sig string) (Target, error) {
	t, payload, err := s.parse(token)
	if err != nil {
		return Target{}, err
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac("click", payload, dest))) {
		return Target{}, appErrors.ErrInvalidLinkToken
	}
	return t, nil
}

func (s *Signer) parse(token string) (Target, string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || len(s.secret) == 0 {
		return Target{}, "", appErrors.ErrInvalidLinkToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Target{}, "", appErrors.ErrInvalidLinkToken
	}
	payload := string(raw)
	if !hmac.Equal([]byte(sig), []byte(s.mac("track", payload))) {
		return Target{}, "", appErrors.ErrInvalidLinkToken
	}

	parts := strings.Split(payload, ".")
	if len(parts) != 3 {
		return Target{}, "", appErrors.ErrInvalidLinkToken
	}
	campaignID, err1 := uuid.Parse(parts[0])
	contactID, err2 := uuid.Parse(parts[1])
	step, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Target{}, "", appErrors.ErrInvalidLinkToken
	}
	return Target{CampaignID: campaignID, ContactID: contactID, StepNumber: step}, payload, nil
}

func (s *Signer) unsubscribeSignature(campaignID, contactID uuid.UUID) string {
	return s.mac("unsubscribe", campaignID.String(), contactID.String())
}

// UnsubscribeURL is tied to the campaign and unit, not to a step.
func (s *Signer) UnsubscribeURL(campaignID, contactID uuid.UUID) string {
	if !s.Enabled() {
		return ""
	}
	q := url.Values{}
	q.Set("campaign", campaignID.String())
	q.Set("contact", contactID.String())
	q.Set("token", s.unsubscribeSignature(campaignID, contactID))
	return s.baseURL + "/unsubscribe?" + q.Encode()
}

func (s *Signer) VerifyUnsubscribe(campaignID, contactID uuid.UUID, token string) error {
	if len(s.secret) == 0 || !hmac.Equal([]byte(token), []byte(s.unsubscribeSignature(campaignID, contactID))) {
		return appErrors.ErrInvalidLinkToken
	}
	return nil
}

func (s *Signer) OpenURL(t Target) string {
	return s.baseURL + "/track/open/" + s.Token(t)
}

// ClickURL signs dest together with the target so the redirect cannot be
// pointed elsewhere.
func (s *Signer) ClickURL(t Target, dest string) string {
	payload := fmt.Sprintf("%s.%s.%d", t.CampaignID, t.ContactID, t.StepNumber)
	q := url.Values{}
	q.Set("url", dest)
	q.Set("sig", s.mac("click", payload, dest))
	return s.baseURL + "/track/click/" + s.Token(t) + "?" + q.Encode()
}

var (
	hrefPattern  = regexp.MustCompile(`(?i)(href\s*=\s*)(["'])(https?://[^"']+)(["'])`)
	closingBody  = regexp.MustCompile(`(?i)</body>`)
	pixelPattern = `<img src="%s" width="1" height="1" style="display:none;opacity:0;" alt="" role="presentation">`
)

// InjectTracking rewrites absolute http(s) links through the click endpoint
// and adds the open pixel. Links already pointing at our own tracking or
// unsubscribe endpoints are left alone.
func (s *Signer) InjectTracking(html string, t Target, opens, clicks bool) string {
	if !s.Enabled() {
		return html
	}
	if clicks {
		html = hrefPattern.ReplaceAllStringFunc(html, func(m string) string {
			parts := hrefPattern.FindStringSubmatch(m)
			dest := parts[3]
			if strings.HasPrefix(dest, s.baseURL+"/track/") || strings.HasPrefix(dest, s.baseURL+"/unsubscribe") {
				return m
			}
			return parts[1] + parts[2] + s.ClickURL(t, dest) + parts[4]
		})
	}
	if opens {
		pixel := fmt.Sprintf(pixelPattern, s.OpenURL(t))
		if loc := closingBody.FindStringIndex(html); loc != nil {
			html = html[:loc[0]] + pixel + html[loc[0]:]
		} else {
			html += pixel
		}
	}
	return html
}
