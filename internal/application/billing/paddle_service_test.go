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

const paddleServiceSecret = "pdl_ntfset_service_secret"

func newPaddleService(t *testing.T) *PaddleWebhookService {
	t.Helper()
	verifier, err := infra.NewPaddleVerifier(&infra.PaddleConfig{
		WebhookSecret: paddleServiceSecret,
		IsSandbox:     true,
	})
	require.NoError(t, err)
	return NewPaddleWebhookService(verifier, nil)
}

func paddleSign(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(paddleServiceSecret))
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(payload)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func paddleEvent(eventType, data string, occurredAt time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":"evt_1","event_type":%q,"occurred_at":%q,"data":%s}`,
		eventType, occurredAt.Format(time.RFC3339), data))
}

func TestPaddleWebhookService_Provider(t *testing.T) {
	assert.Equal(t, billing.ProviderPaddle, newPaddleService(t).Provider())
}

func TestPaddleWebhookService_DecodeSubscriptionCreated(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()
	tenantID := "b3f1a9e2-8c47-4f7e-9d12-0a6b5c4d3e2f"
	periodEnd := now.Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	payload := paddleEvent("subscription.created", fmt.Sprintf(
		`{"id":"sub_1","status":"active","customer_id":"ctm_1","custom_data":{"tenant_id":%q},"current_billing_period":{"ends_at":%q}}`,
		tenantID, periodEnd.Format(time.RFC3339)), now)

	ev, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	require.NoError(t, err)

	assert.Equal(t, billing.KindSubscriptionCreated, ev.Kind)
	assert.Equal(t, "evt_1", ev.ProviderEventID)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "ctm_1", ev.CustomerID)
	assert.Equal(t, tenantID, ev.ClaimedTenantID)
	assert.Equal(t, "active", ev.Status)
	require.NotNil(t, ev.PeriodEnd)
	assert.True(t, periodEnd.Equal(*ev.PeriodEnd))
}

func TestPaddleWebhookService_DecodeSubscription_ScheduledChange(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	tests := []struct {
		action string
		want   string
	}{
		{"cancel", billing.ScheduledChangeCancel},
		{"pause", billing.ScheduledChangePause},
		{"resume", ""},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			payload := paddleEvent("subscription.updated", fmt.Sprintf(
				`{"id":"sub_1","status":"active","customer_id":"ctm_1","scheduled_change":{"action":%q}}`,
				tt.action), now)

			ev, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.ScheduledChange)
		})
	}
}

func TestPaddleWebhookService_DecodeTransactionCompleted(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := paddleEvent("transaction.completed",
		`{"id":"txn_1","status":"completed","customer_id":"ctm_1","subscription_id":"sub_1","details":{"totals":{"total":"4900","currency_code":"usd"}}}`,
		now)

	ev, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	require.NoError(t, err)

	assert.Equal(t, billing.KindPaymentSucceeded, ev.Kind)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(49)), "minor units become major units, got %s", ev.Amount)
	assert.Equal(t, "USD", ev.Currency)
}

func TestPaddleWebhookService_UnknownTypeIsKindUnknown(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := paddleEvent("address.created", `{"id":"add_1"}`, now)

	ev, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	require.NoError(t, err)
	assert.Equal(t, billing.KindUnknown, ev.Kind)
	assert.Equal(t, "address.created", ev.RawType)
}

func TestPaddleWebhookService_MissingEnvelopeFields(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := []byte(fmt.Sprintf(`{"event_type":"subscription.created","occurred_at":%q,"data":{}}`,
		now.Format(time.RFC3339)))

	_, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	assert.ErrorIs(t, err, shared.ErrMalformedPayload)
}

func TestPaddleWebhookService_InvalidOccurredAt(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.created","occurred_at":"yesterday","data":{}}`)

	_, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	assert.ErrorIs(t, err, shared.ErrMalformedPayload)
}

func TestPaddleWebhookService_InvalidAmount(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := paddleEvent("transaction.completed",
		`{"id":"txn_1","details":{"totals":{"total":"lots","currency_code":"usd"}}}`, now)

	_, err := s.VerifyAndDecode(payload, paddleSign(t, payload), now)
	assert.ErrorIs(t, err, shared.ErrMalformedPayload)
}

func TestPaddleWebhookService_InvalidSignature(t *testing.T) {
	s := newPaddleService(t)
	now := time.Now()

	payload := paddleEvent("subscription.created", `{"id":"sub_1"}`, now)
	header := fmt.Sprintf("ts=%d;h1=deadbeef", now.Unix())

	_, err := s.VerifyAndDecode(payload, header, now)
	assert.ErrorIs(t, err, shared.ErrSignatureInvalid)
}
