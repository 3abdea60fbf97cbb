package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/shared"
	infra "github.com/planform/backend/internal/infrastructure/billing"
)

// tenantMetadataKey is the checkout metadata key carrying the tenant the
// session was started for. The value is untrusted until the ownership
// check matches it against the stored customer binding.
const tenantMetadataKey = "tenant_id"

// StripeWebhookService decodes verified Stripe events into canonical form
type StripeWebhookService struct {
	verifier *infra.StripeVerifier
	logger   *zap.Logger
}

// NewStripeWebhookService creates the Stripe adapter
func NewStripeWebhookService(verifier *infra.StripeVerifier, logger *zap.Logger) *StripeWebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeWebhookService{verifier: verifier, logger: logger}
}

// Provider returns the provider this adapter handles
func (s *StripeWebhookService) Provider() billing.Provider {
	return billing.ProviderStripe
}

// VerifyAndDecode authenticates the delivery and maps it to a canonical
// event. Event types outside the allowlist come back as KindUnknown with
// no further decoding; they are accepted upstream and dropped.
func (s *StripeWebhookService) VerifyAndDecode(payload []byte, sigHeader string, _ time.Time) (*billing.CanonicalEvent, error) {
	event, err := s.verifier.Verify(payload, sigHeader)
	if err != nil {
		return nil, err
	}

	kind, known := billing.Classify(billing.ProviderStripe, string(event.Type))
	ev := &billing.CanonicalEvent{
		Provider:        billing.ProviderStripe,
		ProviderEventID: event.ID,
		RawType:         string(event.Type),
		Kind:            kind,
		OccurredAt:      time.Unix(event.Created, 0),
	}
	if !known {
		return ev, nil
	}

	switch kind {
	case billing.KindCheckoutCompleted:
		err = s.decodeCheckoutSession(event.Data.Raw, ev)
	case billing.KindSubscriptionCreated, billing.KindSubscriptionUpdated, billing.KindSubscriptionCanceled:
		err = s.decodeSubscription(event.Data.Raw, ev)
	case billing.KindPaymentSucceeded, billing.KindPaymentFailed:
		err = s.decodeInvoice(event.Data.Raw, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", shared.ErrMalformedPayload, event.Type, err)
	}

	return ev, nil
}

// decodeCheckoutSession extracts the fields of checkout.session.completed
func (s *StripeWebhookService) decodeCheckoutSession(raw json.RawMessage, ev *billing.CanonicalEvent) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}

	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		ev.SubscriptionID = session.Subscription.ID
	}
	ev.ClaimedTenantID = session.Metadata[tenantMetadataKey]
	ev.Status = string(session.Status)
	ev.Amount = amountFromCents(session.AmountTotal)
	ev.Currency = normalizeCurrency(string(session.Currency))
	ev.Metadata = session.Metadata

	return nil
}

// decodeSubscription extracts the fields of customer.subscription.* events
func (s *StripeWebhookService) decodeSubscription(raw json.RawMessage, ev *billing.CanonicalEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	ev.SubscriptionID = sub.ID
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	ev.Status = string(sub.Status)
	if sub.CancelAtPeriodEnd {
		ev.ScheduledChange = billing.ScheduledChangeCancel
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0)
		ev.PeriodEnd = &end
	}
	ev.Metadata = sub.Metadata

	return nil
}

// decodeInvoice extracts the fields of invoice.paid and
// invoice.payment_failed
func (s *StripeWebhookService) decodeInvoice(raw json.RawMessage, ev *billing.CanonicalEvent) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return err
	}

	if invoice.Customer != nil {
		ev.CustomerID = invoice.Customer.ID
	}
	if invoice.Subscription != nil {
		ev.SubscriptionID = invoice.Subscription.ID
	}
	ev.Status = string(invoice.Status)
	ev.Currency = normalizeCurrency(string(invoice.Currency))

	if ev.Kind == billing.KindPaymentSucceeded {
		ev.Amount = amountFromCents(invoice.AmountPaid)
	} else {
		ev.Amount = amountFromCents(invoice.AmountDue)
	}

	if invoice.PeriodEnd > 0 {
		end := time.Unix(invoice.PeriodEnd, 0)
		ev.PeriodEnd = &end
	}
	ev.Metadata = invoice.Metadata

	return nil
}

// amountFromCents converts a Stripe minor-unit amount to a decimal
func amountFromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// normalizeCurrency upper-cases an ISO 4217 code; empty stays empty
func normalizeCurrency(code string) string {
	return strings.ToUpper(code)
}
