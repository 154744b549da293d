// Package webhook authenticates and decodes delivery provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

type SignatureHeaders struct {
	Signature string
	Timestamp int64
	ID        string
}

// Apply sets the signature headers on h.
func (s SignatureHeaders) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	h.Set(HeaderID, s.ID)
}

func sign(secret string, timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// SignPayload signs HMAC-SHA256(secret, timestamp + "." + payload).
func SignPayload(secret string, payload []byte, now time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", appErrors.ErrInvalidSignature)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload cannot be empty", appErrors.ErrInvalidPayload)
	}
	ts := now.Unix()
	return SignatureHeaders{Signature: sign(secret, ts, payload), Timestamp: ts, ID: uuid.NewString()}, nil
}

// ExtractSignatureHeaders reads the signature set from an HTTP request.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature: strings.TrimPrefix(strings.TrimSpace(h.Get(HeaderSignature)), "sha256="),
		ID:        h.Get(HeaderID),
	}
	if raw := h.Get(HeaderTimestamp); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp format", appErrors.ErrInvalidSignature)
		}
		sig.Timestamp = ts
	}
	if sig.Signature == "" || sig.Timestamp == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: missing required signature headers", appErrors.ErrInvalidSignature)
	}
	return sig, nil
}

// VerifySignature checks the HMAC and rejects timestamps outside maxAge.
// An empty secret rejects everything.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", appErrors.ErrInvalidSignature)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", appErrors.ErrInvalidSignature)
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature timestamp too old: %v", appErrors.ErrInvalidSignature, age)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: signature timestamp is in the future", appErrors.ErrInvalidSignature)
		}
	}

	expected := sign(secret, headers.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return fmt.Errorf("%w: signature mismatch", appErrors.ErrInvalidSignature)
	}
	return nil
}

// Verifier bundles the secret and replay window for request verification.
type Verifier struct {
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

func (v Verifier) Verify(payload []byte, h http.Header) error {
	sig, err := ExtractSignatureHeaders(h)
	if err != nil {
		return err
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	return VerifySignature(v.Secret, payload, sig, v.MaxAge, now)
}
