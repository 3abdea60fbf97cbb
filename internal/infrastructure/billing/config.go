package billing

import (
	"fmt"
	"strings"
	"time"
)

// StripeConfig holds configuration for the Stripe integration
type StripeConfig struct {
	// WebhookSecret is the endpoint secret used to verify webhook
	// signatures (whsec_xxx). Supplied out of band; absence is a fatal
	// startup error, never a per-request one.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: webhook secret is required")
	}
	if !strings.HasPrefix(c.WebhookSecret, "whsec_") {
		return fmt.Errorf("stripe: webhook secret must start with whsec_")
	}
	return nil
}

// PaddleConfig holds configuration for the Paddle integration
type PaddleConfig struct {
	// WebhookSecret is the shared secret for the notification destination
	// (pdl_ntfset_xxx). Absence is a fatal startup error.
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`

	// IsSandbox indicates if using the Paddle sandbox environment
	IsSandbox bool `json:"is_sandbox" mapstructure:"is_sandbox"`
}

// Validate validates the Paddle configuration
func (c *PaddleConfig) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("paddle: webhook secret is required")
	}
	return nil
}

// FreshnessWindow is the maximum allowed distance between now and the
// event's declared occurrence timestamp, in either direction. Events
// outside the window are rejected as stale before any state is read.
const FreshnessWindow = 5 * time.Minute
