// Package handler contains the gin HTTP handlers.
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/planform/backend/internal/application/billing"
	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/infrastructure/logger"
)

// signatureHeaders maps each provider to the header carrying its signature
var signatureHeaders = map[billing.Provider]string{
	billing.ProviderStripe: "Stripe-Signature",
	billing.ProviderPaddle: "Paddle-Signature",
}

// WebhookHandler receives payment provider webhook deliveries. These
// endpoints are called by the providers themselves and carry no session
// authentication; the signature check inside the pipeline is the only
// authentication they get.
type WebhookHandler struct {
	pipeline *appbilling.WebhookPipeline
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(pipeline *appbilling.WebhookPipeline) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	webhooks := rg.Group("/webhooks")
	{
		webhooks.POST("/stripe", h.handle(billing.ProviderStripe))
		webhooks.POST("/paddle", h.handle(billing.ProviderPaddle))
	}
}

// webhookResponse is the body returned to the provider
type webhookResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// handle builds the gin handler for one provider. The body is read raw and
// handed to the pipeline untouched: signature verification must see the
// exact bytes the provider sent, so no binding or re-serialization happens
// here.
func (h *WebhookHandler) handle(provider billing.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.GetGinLogger(c).Warn("Failed to read webhook body",
				zap.String("provider", string(provider)), zap.Error(err))
			c.JSON(http.StatusBadRequest, webhookResponse{
				Status: string(billing.OutcomeRejected),
				Reason: billing.RejectMalformed,
			})
			return
		}

		sigHeader := c.GetHeader(signatureHeaders[provider])

		outcome := h.pipeline.Process(c.Request.Context(), provider, payload, sigHeader)

		c.JSON(statusForOutcome(outcome), webhookResponse{
			Status:  string(outcome.Status),
			Reason:  outcome.Reason,
			EventID: outcome.EventID,
		})
	}
}

// statusForOutcome maps pipeline outcomes to HTTP status codes. Success
// codes stop provider retries; 503 requests a redelivery with backoff.
func statusForOutcome(o billing.Outcome) int {
	switch o.Status {
	case billing.OutcomeApplied, billing.OutcomeDuplicate, billing.OutcomeIgnored:
		return http.StatusOK
	case billing.OutcomeTransientFailure:
		return http.StatusServiceUnavailable
	case billing.OutcomeRejected:
		switch o.Reason {
		case billing.RejectSignature:
			return http.StatusUnauthorized
		case billing.RejectOwnership:
			return http.StatusForbidden
		default:
			// Stale and malformed payloads
			return http.StatusBadRequest
		}
	default:
		return http.StatusInternalServerError
	}
}
