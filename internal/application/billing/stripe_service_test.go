package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/shared"
	infra "github.com/planform/backend/internal/infrastructure/billing"
)

const stripeServiceSecret = "whsec_service_secret"

func newStripeService(t *testing.T) *StripeWebhookService {
	t.Helper()
	verifier, err := infra.NewStripeVerifier(&infra.StripeConfig{
		WebhookSecret: stripeServiceSecret,
		IsTestMode:    true,
	})
	require.NoError(t, err)
	return NewStripeWebhookService(verifier, nil)
}

func stripeSign(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(stripeServiceSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","type":%q,"created":%d,"data":{"object":%s}}`,
		eventType, time.Now().Unix(), object))
}

func TestStripeWebhookService_Provider(t *testing.T) {
	assert.Equal(t, billing.ProviderStripe, newStripeService(t).Provider())
}

func TestStripeWebhookService_DecodeCheckoutSession(t *testing.T) {
	s := newStripeService(t)
	tenantID := "b3f1a9e2-8c47-4f7e-9d12-0a6b5c4d3e2f"

	payload := stripeEventPayload("checkout.session.completed", fmt.Sprintf(
		`{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1","metadata":{"tenant_id":%q},"amount_total":4900,"currency":"usd","status":"complete"}`,
		tenantID))

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)

	assert.Equal(t, billing.KindCheckoutCompleted, ev.Kind)
	assert.Equal(t, "evt_1", ev.ProviderEventID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, tenantID, ev.ClaimedTenantID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)), "minor units become major units, got %s", ev.Amount)
	assert.Equal(t, "USD", ev.Currency)
}

func TestStripeWebhookService_DecodeSubscription(t *testing.T) {
	s := newStripeService(t)
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()

	payload := stripeEventPayload("customer.subscription.updated", fmt.Sprintf(
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active","current_period_end":%d}`,
		periodEnd))

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)

	assert.Equal(t, billing.KindSubscriptionUpdated, ev.Kind)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "active", ev.Status)
	assert.True(t, ev.HasActiveStatus())
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, periodEnd, ev.PeriodEnd.Unix())
}

func TestStripeWebhookService_DecodeSubscription_CancelAtPeriodEnd(t *testing.T) {
	s := newStripeService(t)

	payload := stripeEventPayload("customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active","cancel_at_period_end":true}`)

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)

	assert.Equal(t, "active", ev.Status, "the subscription stays active until the period ends")
	assert.Equal(t, billing.ScheduledChangeCancel, ev.ScheduledChange)
}

func TestStripeWebhookService_DecodeInvoicePaymentFailed(t *testing.T) {
	s := newStripeService(t)

	payload := stripeEventPayload("invoice.payment_failed",
		`{"id":"in_1","object":"invoice","customer":"cus_1","subscription":"sub_1","amount_due":4900,"amount_paid":0,"currency":"eur"}`)

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)

	assert.Equal(t, billing.KindPaymentFailed, ev.Kind)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)), "failed payments carry the amount due, got %s", ev.Amount)
	assert.Equal(t, "EUR", ev.Currency)
}

func TestStripeWebhookService_DecodeInvoicePaid(t *testing.T) {
	s := newStripeService(t)

	payload := stripeEventPayload("invoice.paid",
		`{"id":"in_1","object":"invoice","customer":"cus_1","amount_due":4900,"amount_paid":4900,"currency":"usd"}`)

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)

	assert.Equal(t, billing.KindPaymentSucceeded, ev.Kind)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)))
}

func TestStripeWebhookService_UnknownTypeIsKindUnknown(t *testing.T) {
	s := newStripeService(t)

	payload := stripeEventPayload("customer.created", `{"id":"cus_1","object":"customer"}`)

	ev, err := s.VerifyAndDecode(payload, stripeSign(t, payload), time.Now())
	require.NoError(t, err)
	assert.Equal(t, billing.KindUnknown, ev.Kind)
	assert.Equal(t, "customer.created", ev.RawType)
}

func TestStripeWebhookService_InvalidSignature(t *testing.T) {
	s := newStripeService(t)

	payload := stripeEventPayload("invoice.paid", `{"id":"in_1"}`)
	header := fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix())
	_, err := s.VerifyAndDecode(payload, header, time.Now())
	assert.ErrorIs(t, err, shared.ErrSignatureInvalid)
}
