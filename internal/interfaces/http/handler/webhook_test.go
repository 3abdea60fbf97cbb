package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appbilling "github.com/planform/backend/internal/application/billing"
	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/shared"
	infra "github.com/planform/backend/internal/infrastructure/billing"
	"github.com/planform/backend/internal/infrastructure/cache"
)

const webhookTestSecret = "pdl_ntfset_handler_secret"

// newWebhookRouter wires a paddle-only pipeline behind the handler. The
// repositories and engine stay nil: these tests exercise the transport
// surface, which never reaches them for rejected or unhandled deliveries.
func newWebhookRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := infra.NewPaddleVerifier(&infra.PaddleConfig{
		WebhookSecret: webhookTestSecret,
		IsSandbox:     true,
	})
	require.NoError(t, err)

	dedup := cache.NewInMemoryDedupStore()
	t.Cleanup(func() { _ = dedup.Close() })

	pipeline := appbilling.NewWebhookPipeline(appbilling.WebhookPipelineConfig{
		Adapters: []appbilling.ProviderAdapter{appbilling.NewPaddleWebhookService(verifier, nil)},
		Dedup:    dedup,
		DedupCfg: shared.DedupConfig{TTL: time.Hour},
	})

	router := gin.New()
	NewWebhookHandler(pipeline).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func signWebhook(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	fmt.Fprintf(mac, "%d:", ts)
	mac.Write(payload)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(router *gin.Engine, payload []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paddle", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if sigHeader != "" {
		req.Header.Set("Paddle-Signature", sigHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func unhandledEventPayload(eventID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":%q,"event_type":"address.created","occurred_at":%q,"data":{}}`,
		eventID, time.Now().Format(time.RFC3339)))
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	router := newWebhookRouter(t)

	w := postWebhook(router, unhandledEventPayload("evt_1"), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(billing.OutcomeRejected), resp["status"])
	assert.Equal(t, billing.RejectSignature, resp["reason"])
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	router := newWebhookRouter(t)
	payload := unhandledEventPayload("evt_1")

	header := fmt.Sprintf("ts=%d;h1=deadbeef", time.Now().Unix())
	w := postWebhook(router, payload, header)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_UnhandledEventAccepted(t *testing.T) {
	router := newWebhookRouter(t)
	payload := unhandledEventPayload("evt_1")

	w := postWebhook(router, payload, signWebhook(t, payload))
	assert.Equal(t, http.StatusOK, w.Code, "unhandled kinds must not trigger provider retries")

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(billing.OutcomeIgnored), resp["status"])
	assert.Equal(t, "evt_1", resp["event_id"])
}

func TestWebhookHandler_DuplicateDelivery(t *testing.T) {
	router := newWebhookRouter(t)
	payload := unhandledEventPayload("evt_1")
	header := signWebhook(t, payload)

	first := postWebhook(router, payload, header)
	require.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(router, payload, header)
	assert.Equal(t, http.StatusOK, second.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, string(billing.OutcomeDuplicate), resp["status"])
}

func TestWebhookHandler_StaleEvent(t *testing.T) {
	router := newWebhookRouter(t)
	payload := []byte(fmt.Sprintf(
		`{"event_id":"evt_1","event_type":"address.created","occurred_at":%q,"data":{}}`,
		time.Now().Add(-time.Hour).Format(time.RFC3339)))

	w := postWebhook(router, payload, signWebhook(t, payload))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, billing.RejectStale, resp["reason"])
}

func TestWebhookHandler_MalformedPayload(t *testing.T) {
	router := newWebhookRouter(t)
	payload := []byte(`{"event_id":`)

	w := postWebhook(router, payload, signWebhook(t, payload))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusForOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome billing.Outcome
		want    int
	}{
		{"applied", billing.Applied("evt_1", billing.KindCheckoutCompleted), http.StatusOK},
		{"duplicate", billing.Duplicate("evt_1"), http.StatusOK},
		{"ignored", billing.Ignored("evt_1", "not handled"), http.StatusOK},
		{"transient", billing.TransientFailure("dedup down"), http.StatusServiceUnavailable},
		{"bad signature", billing.Rejected(billing.RejectSignature), http.StatusUnauthorized},
		{"ownership", billing.Rejected(billing.RejectOwnership), http.StatusForbidden},
		{"stale", billing.Rejected(billing.RejectStale), http.StatusBadRequest},
		{"malformed", billing.Rejected(billing.RejectMalformed), http.StatusBadRequest},
		{"zero value", billing.Outcome{}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForOutcome(tt.outcome))
		})
	}
}
