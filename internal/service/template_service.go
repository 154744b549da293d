// internal/service/template_service.go
package service

import (
	"fmt"
	"regexp"
	"strings"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// RecipientData is what a template can reference.
type RecipientData struct {
	FirstName      string
	LastName       string
	Company        string
	Email          string
	Phone          string
	UnsubscribeURL string
	Custom         map[string]string
}

// NewRecipientData merges the address book entry with the per-campaign email.
func NewRecipientData(contact *model.Contact, email string) RecipientData {
	if email == "" {
		email = contact.Email
	}
	return RecipientData{
		FirstName: contact.FirstName,
		LastName:  contact.LastName,
		Company:   contact.Company,
		Email:     email,
		Phone:     contact.Phone,
		Custom:    contact.CustomFields,
	}
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

const customPrefix = "custom."

// RenderTemplate substitutes {{token}} placeholders. Known tokens with no
// value render as the empty string; unknown tokens are left verbatim.
func RenderTemplate(template string, data RecipientData) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := tokenPattern.FindStringSubmatch(match)[1]
		if value, ok := data.lookup(key); ok {
			return value
		}
		return match
	})
}

func (d RecipientData) lookup(key string) (string, bool) {
	switch strings.ToLower(key) {
	case "first_name":
		return d.FirstName, true
	case "last_name":
		return d.LastName, true
	case "company":
		return d.Company, true
	case "email":
		return d.Email, true
	case "phone":
		return d.Phone, true
	case "unsubscribe_url":
		return d.UnsubscribeURL, true
	}

	if len(key) > len(customPrefix) && strings.EqualFold(key[:len(customPrefix)], customPrefix) {
		v, _ := d.custom(key[len(customPrefix):])
		return v, true
	}
	// bare custom field names are accepted when the recipient has them
	return d.custom(key)
}

func (d RecipientData) custom(name string) (string, bool) {
	if v, ok := d.Custom[name]; ok {
		return v, true
	}
	for k, v := range d.Custom {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// TemplateRenderer renders subject and body of a sequence step.
type TemplateRenderer struct{}

// Render fails with ErrTemplateDataMissing when the step has nothing to send.
func (TemplateRenderer) Render(step *model.SequenceStep, data RecipientData) (subject, body string, err error) {
	if strings.TrimSpace(step.SubjectTemplate) == "" {
		return "", "", fmt.Errorf("%w: step %d has an empty subject", appErrors.ErrTemplateDataMissing, step.StepNumber)
	}
	if strings.TrimSpace(step.BodyTemplate) == "" {
		return "", "", fmt.Errorf("%w: step %d has an empty body", appErrors.ErrTemplateDataMissing, step.StepNumber)
	}
	return RenderTemplate(step.SubjectTemplate, data), RenderTemplate(step.BodyTemplate, data), nil
}

// TemplateVariables lists the distinct tokens used in a template, in order of
// first appearance.
func TemplateVariables(template string) []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range tokenPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

// UnknownVariables returns the tokens RenderTemplate would leave untouched.
func UnknownVariables(template string, data RecipientData) []string {
	unknown := []string{}
	for _, v := range TemplateVariables(template) {
		if _, ok := data.lookup(v); !ok {
			unknown = append(unknown, v)
		}
	}
	return unknown
}
