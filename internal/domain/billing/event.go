package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment provider integration
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPaddle Provider = "paddle"
)

// EventKind is the canonical, provider-independent classification of a
// webhook event. Only kinds on the per-provider allowlist below reach the
// transition engine; anything else is accepted at the transport level and
// dropped without state change.
type EventKind string

const (
	KindCheckoutCompleted    EventKind = "checkout_completed"
	KindSubscriptionCreated  EventKind = "subscription_created"
	KindSubscriptionUpdated  EventKind = "subscription_updated"
	KindSubscriptionCanceled EventKind = "subscription_canceled"
	KindPaymentSucceeded     EventKind = "payment_succeeded"
	KindPaymentFailed        EventKind = "payment_failed"

	// KindUnknown marks event types outside the allowlist. Unknown is not
	// untrusted: the payload already passed signature verification, we just
	// do not act on it.
	KindUnknown EventKind = "unknown"
)

// stripeEventKinds maps Stripe event type strings to canonical kinds
var stripeEventKinds = map[string]EventKind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionCanceled,
	"invoice.paid":                  KindPaymentSucceeded,
	"invoice.payment_failed":        KindPaymentFailed,
}

// paddleEventKinds maps Paddle event type strings to canonical kinds
var paddleEventKinds = map[string]EventKind{
	"subscription.created":       KindSubscriptionCreated,
	"subscription.updated":       KindSubscriptionUpdated,
	"subscription.canceled":      KindSubscriptionCanceled,
	"transaction.completed":      KindPaymentSucceeded,
	"transaction.payment_failed": KindPaymentFailed,
}

// Classify maps a provider event type string to a canonical kind. The
// second return value is false for kinds outside the allowlist; providers
// add event types over time without notice, so unknown means "do not act",
// never "reject".
func Classify(provider Provider, eventType string) (EventKind, bool) {
	var kinds map[string]EventKind
	switch provider {
	case ProviderStripe:
		kinds = stripeEventKinds
	case ProviderPaddle:
		kinds = paddleEventKinds
	default:
		return KindUnknown, false
	}

	kind, ok := kinds[eventType]
	if !ok {
		return KindUnknown, false
	}
	return kind, true
}

// CanonicalEvent is the strict, provider-independent form of a verified
// webhook payload. It is constructed only after signature verification
// succeeds; nothing reads the raw payload before that. Unrecognized payload
// fields are preserved in Metadata and never implicitly trusted.
type CanonicalEvent struct {
	Provider        Provider  `validate:"required,oneof=stripe paddle"`
	ProviderEventID string    `validate:"required,max=200"`
	RawType         string    `validate:"required,max=100"`
	Kind            EventKind `validate:"required"`

	// OccurredAt is the provider's declared occurrence timestamp, checked
	// against the freshness window before any state is read.
	OccurredAt time.Time `validate:"required"`

	// CustomerID is the provider customer the event concerns. It is matched
	// against the tenant's stored binding, never the other way around.
	CustomerID     string `validate:"omitempty,max=100"`
	SubscriptionID string `validate:"omitempty,max=100"`

	// ClaimedTenantID is the tenant identifier carried as checkout metadata.
	// It is caller-supplied and therefore untrusted until the ownership
	// check passes.
	ClaimedTenantID string `validate:"omitempty,uuid"`

	// Status is the provider's subscription/transaction status string
	// (active, past_due, paused, ...). A subscription_updated event only
	// upgrades when this is an active status.
	Status string `validate:"omitempty,max=50"`

	// ScheduledChange is the change the provider has queued for the end of
	// the current billing period (Stripe cancel_at_period_end, Paddle
	// scheduled_change). The current entitlement is untouched until the
	// period actually ends.
	ScheduledChange string `validate:"omitempty,oneof=cancel pause"`

	Amount   decimal.Decimal
	Currency string `validate:"omitempty,len=3"`

	PeriodEnd *time.Time

	// Metadata holds unrecognized payload fields as an opaque blob
	Metadata map[string]string
}

// Scheduled change actions carried on an otherwise active subscription
const (
	ScheduledChangeCancel = "cancel"
	ScheduledChangePause  = "pause"
)

// activeStatuses are the provider status strings that justify an upgrade
var activeStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// HasActiveStatus reports whether the event's declared status is one that
// may activate a paid plan. A subscription_updated event covers pauses,
// payment failures and plan switches as well; treating every update as an
// upgrade would be a privilege escalation.
func (e *CanonicalEvent) HasActiveStatus() bool {
	return activeStatuses[e.Status]
}
