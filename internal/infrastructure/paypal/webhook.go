package paypal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
)

const SignatureHeader = "X-Signature"

var (
	ErrBadSignature = errors.New("paypal: webhook signature mismatch")
	ErrBadEvent     = errors.New("paypal: malformed webhook event")
)

// WebhookVerifier authenticates webhook bodies signed with a shared secret
// (hex HMAC-SHA256 of the raw body).
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 || signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

type webhookBody struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Resource      struct {
		ParentPayment string `json:"parent_payment"`
		State         string `json:"state"`
	} `json:"resource"`
}

var eventTypes = map[string]domain.Status{
	"PAYMENT.SALE.COMPLETED": domain.StatusCompleted,
	"PAYMENT.SALE.DENIED":    domain.StatusFailed,
	"PAYMENT.SALE.REFUNDED":  domain.StatusRefunded,
	"PAYMENT.SALE.REVERSED":  domain.StatusRefunded,
}

// ParseEvent accepts both the flat {id, transaction_id, status} form and PayPal's
// PAYMENT.SALE.* envelopes.
func ParseEvent(body []byte) (apppay.Event, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return apppay.Event{}, fmt.Errorf("%w: %w", ErrBadEvent, err)
	}
	evt := apppay.Event{ID: b.ID, TransactionID: b.TransactionID, Status: domain.Status(strings.ToLower(b.Status))}
	if b.EventType != "" {
		status, ok := eventTypes[b.EventType]
		if !ok {
			return apppay.Event{}, fmt.Errorf("%w: unsupported event type %q", ErrBadEvent, b.EventType)
		}
		evt.Status = status
		if evt.TransactionID == "" {
			evt.TransactionID = b.Resource.ParentPayment
		}
	}
	if evt.TransactionID == "" || evt.Status == "" {
		return apppay.Event{}, fmt.Errorf("%w: transaction_id and status are required", ErrBadEvent)
	}
	return evt, nil
}

// Decode parses a webhook body whose signature has already been verified.
func (v *WebhookVerifier) Decode(body []byte) (apppay.Event, error) {
	return ParseEvent(body)
}
