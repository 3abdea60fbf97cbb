package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BillingMetrics tracks the webhook pipeline: accepted transitions,
// duplicates, ignored kinds, security rejections and transient failures.
// A nil *BillingMetrics is a valid no-op receiver so that tests and
// metrics-disabled deployments need no wiring.
type BillingMetrics struct {
	logger *zap.Logger

	webhookOutcomes    metric.Int64Counter
	securityRejections metric.Int64Counter
	criticalAlerts     metric.Int64Counter
}

// NewBillingMetrics creates the billing metric instruments on the given meter
func NewBillingMetrics(meter metric.Meter, logger *zap.Logger) (*BillingMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BillingMetrics{logger: logger}

	var err error

	bm.webhookOutcomes, err = meter.Int64Counter(
		"billing.webhook.outcomes",
		metric.WithDescription("Webhook deliveries by provider, canonical kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook outcomes counter: %w", err)
	}

	bm.securityRejections, err = meter.Int64Counter(
		"billing.webhook.security_rejections",
		metric.WithDescription("Webhook deliveries rejected for signature or ownership violations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security rejections counter: %w", err)
	}

	bm.criticalAlerts, err = meter.Int64Counter(
		"billing.alerts.critical",
		metric.WithDescription("Critical billing-risk alerts (payment failures)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create critical alerts counter: %w", err)
	}

	return bm, nil
}

// RecordOutcome records one webhook delivery result
func (bm *BillingMetrics) RecordOutcome(ctx context.Context, provider, kind, outcome string) {
	if bm == nil || bm.webhookOutcomes == nil {
		return
	}
	bm.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordSecurityRejection records a signature or ownership rejection
func (bm *BillingMetrics) RecordSecurityRejection(ctx context.Context, provider, reason string) {
	if bm == nil || bm.securityRejections == nil {
		return
	}
	bm.securityRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// RecordCriticalAlert records a billing-risk alert
func (bm *BillingMetrics) RecordCriticalAlert(ctx context.Context, provider, action string) {
	if bm == nil || bm.criticalAlerts == nil {
		return
	}
	bm.criticalAlerts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("action", action),
	))
}
