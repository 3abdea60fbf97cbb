package billing

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/planform/backend/internal/domain/shared"
)

// StripeVerifier authenticates Stripe webhook deliveries. Verification runs
// over the exact bytes received, never a re-serialized form: re-encoding can
// reorder JSON keys and change the byte stream, and signing the parsed form
// would let a re-serialized forgery pass.
type StripeVerifier struct {
	config *StripeConfig
}

// NewStripeVerifier creates a verifier for the configured endpoint secret
func NewStripeVerifier(cfg *StripeConfig) (*StripeVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StripeVerifier{config: cfg}, nil
}

// Verify checks the Stripe-Signature header against the raw payload and
// returns the decoded event. The stripe-go webhook helper computes the HMAC
// over the raw bytes and compares in constant time; its tolerance check is
// mapped to ErrStaleEvent so staleness stays distinguishable from a bad
// signature during triage.
func (v *StripeVerifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.config.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance: FreshnessWindow,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrTooOld) {
			return stripe.Event{}, fmt.Errorf("%w: %v", shared.ErrStaleEvent, err)
		}
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrInvalidHeader) {
			return stripe.Event{}, fmt.Errorf("%w: %v", shared.ErrSignatureInvalid, err)
		}
		// Payload parse failures reach here only after the signature matched
		return stripe.Event{}, fmt.Errorf("%w: %v", shared.ErrMalformedPayload, err)
	}

	return event, nil
}
