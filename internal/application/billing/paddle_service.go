package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/shared"
	infra "github.com/planform/backend/internal/infrastructure/billing"
)

// paddleEnvelope is the outer shape of every Paddle Billing notification
type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// paddleSubscription covers subscription.created/updated/canceled payloads
type paddleSubscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	CustomData           map[string]string `json:"custom_data"`
	CurrentBillingPeriod *struct {
		EndsAt string `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

// paddleTransaction covers transaction.completed/payment_failed payloads
type paddleTransaction struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	CustomData     map[string]string `json:"custom_data"`
	Details        *struct {
		Totals *struct {
			Total        string `json:"total"`
			CurrencyCode string `json:"currency_code"`
		} `json:"totals"`
	} `json:"details"`
	BillingPeriod *struct {
		EndsAt string `json:"ends_at"`
	} `json:"billing_period"`
}

// PaddleWebhookService decodes verified Paddle events into canonical form
type PaddleWebhookService struct {
	verifier *infra.PaddleVerifier
	logger   *zap.Logger
}

// NewPaddleWebhookService creates the Paddle adapter
func NewPaddleWebhookService(verifier *infra.PaddleVerifier, logger *zap.Logger) *PaddleWebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaddleWebhookService{verifier: verifier, logger: logger}
}

// Provider returns the provider this adapter handles
func (s *PaddleWebhookService) Provider() billing.Provider {
	return billing.ProviderPaddle
}

// VerifyAndDecode authenticates the delivery and maps it to a canonical
// event. Unlike Stripe, Paddle's envelope carries its own RFC 3339
// occurrence timestamp separate from the signature timestamp; the pipeline
// checks it against the freshness window as well.
func (s *PaddleWebhookService) VerifyAndDecode(payload []byte, sigHeader string, now time.Time) (*billing.CanonicalEvent, error) {
	if err := s.verifier.Verify(payload, sigHeader, now); err != nil {
		return nil, err
	}

	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", shared.ErrMalformedPayload, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: envelope missing event_id or event_type", shared.ErrMalformedPayload)
	}

	occurredAt, err := time.Parse(time.RFC3339, env.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid occurred_at %q", shared.ErrMalformedPayload, env.OccurredAt)
	}

	kind, known := billing.Classify(billing.ProviderPaddle, env.EventType)
	ev := &billing.CanonicalEvent{
		Provider:        billing.ProviderPaddle,
		ProviderEventID: env.EventID,
		RawType:         env.EventType,
		Kind:            kind,
		OccurredAt:      occurredAt,
	}
	if !known {
		return ev, nil
	}

	switch kind {
	case billing.KindSubscriptionCreated, billing.KindSubscriptionUpdated, billing.KindSubscriptionCanceled:
		err = s.decodeSubscription(env.Data, ev)
	case billing.KindPaymentSucceeded, billing.KindPaymentFailed:
		err = s.decodeTransaction(env.Data, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", shared.ErrMalformedPayload, env.EventType, err)
	}

	return ev, nil
}

// decodeSubscription extracts the fields of subscription.* events. A
// subscription.created carrying tenant custom data doubles as Paddle's
// checkout completion, so the claimed tenant rides along here too.
func (s *PaddleWebhookService) decodeSubscription(raw json.RawMessage, ev *billing.CanonicalEvent) error {
	var sub paddleSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	ev.SubscriptionID = sub.ID
	ev.CustomerID = sub.CustomerID
	ev.Status = sub.Status
	ev.ClaimedTenantID = sub.CustomData[tenantMetadataKey]
	ev.Metadata = sub.CustomData

	// A scheduled_change of "resume" clears the pending action, so it maps
	// to no scheduled change at all
	if sub.ScheduledChange != nil {
		switch sub.ScheduledChange.Action {
		case "cancel":
			ev.ScheduledChange = billing.ScheduledChangeCancel
		case "pause":
			ev.ScheduledChange = billing.ScheduledChangePause
		}
	}

	if sub.CurrentBillingPeriod != nil && sub.CurrentBillingPeriod.EndsAt != "" {
		end, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt)
		if err != nil {
			return fmt.Errorf("invalid current_billing_period.ends_at %q", sub.CurrentBillingPeriod.EndsAt)
		}
		ev.PeriodEnd = &end
	}

	return nil
}

// decodeTransaction extracts the fields of transaction.* events
func (s *PaddleWebhookService) decodeTransaction(raw json.RawMessage, ev *billing.CanonicalEvent) error {
	var txn paddleTransaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return err
	}

	ev.CustomerID = txn.CustomerID
	ev.SubscriptionID = txn.SubscriptionID
	ev.Status = txn.Status
	ev.ClaimedTenantID = txn.CustomData[tenantMetadataKey]
	ev.Metadata = txn.CustomData

	if txn.Details != nil && txn.Details.Totals != nil {
		if txn.Details.Totals.Total != "" {
			amount, err := decimal.NewFromString(txn.Details.Totals.Total)
			if err != nil {
				return fmt.Errorf("invalid details.totals.total %q", txn.Details.Totals.Total)
			}
			// Paddle totals are minor units as strings
			ev.Amount = amount.Div(decimal.NewFromInt(100))
		}
		ev.Currency = normalizeCurrency(txn.Details.Totals.CurrencyCode)
	}

	if txn.BillingPeriod != nil && txn.BillingPeriod.EndsAt != "" {
		end, err := time.Parse(time.RFC3339, txn.BillingPeriod.EndsAt)
		if err != nil {
			return fmt.Errorf("invalid billing_period.ends_at %q", txn.BillingPeriod.EndsAt)
		}
		ev.PeriodEnd = &end
	}

	return nil
}
