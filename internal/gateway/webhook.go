package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidSignature is returned when a notification is not signed with the shared secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook event names.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Event is a gateway notification.
type Event struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}

// ParseEvent decodes a notification body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.Event == "" {
		return nil, errors.New("webhook event has no name")
	}
	return &event, nil
}

// Verifier authenticates gateway notifications with HMAC-SHA512 over the raw body.
type Verifier struct {
	secret        []byte
	allowUnsigned bool
	logger        *zap.Logger
}

// NewVerifier creates a Verifier. With an empty secret every notification is
// rejected unless allowUnsigned is set.
func NewVerifier(secret string, allowUnsigned bool, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		if allowUnsigned {
			logger.Warn("webhook secret is not configured, unsigned notifications will be accepted")
		} else {
			logger.Error("webhook secret is not configured, all notifications will be rejected")
		}
	}
	return &Verifier{
		secret:        []byte(secret),
		allowUnsigned: allowUnsigned,
		logger:        logger.Named("webhook"),
	}
}

// Verify checks the hex signature of body. It returns ErrInvalidSignature on mismatch.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		if v.allowUnsigned {
			v.logger.Warn("accepting unsigned webhook")
			return nil
		}
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, v.sign(body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature the gateway would send for body.
func (v *Verifier) Sign(body []byte) string {
	return hex.EncodeToString(v.sign(body))
}

func (v *Verifier) sign(body []byte) []byte {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
