package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrMissingSequenceStep):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCampaign),
		errors.Is(err, appErrors.ErrTemplateDataMissing),
		errors.Is(err, appErrors.ErrInvalidPayload),
		errors.Is(err, appErrors.ErrRetentionWindowTooShort):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrInvalidSignature), errors.Is(err, appErrors.ErrInvalidLinkToken):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
