package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/identity"
	"github.com/planform/backend/internal/domain/shared"
	infra "github.com/planform/backend/internal/infrastructure/billing"
	"github.com/planform/backend/internal/infrastructure/telemetry"
)

// defaultProcessTimeout bounds one pipeline run end to end
const defaultProcessTimeout = 25 * time.Second

// WebhookPipeline runs a raw webhook delivery through verification,
// freshness, deduplication, classification, validation, ownership and the
// transition engine, in that order. The order is load-bearing: nothing
// downstream of a failed step executes, and the dedup claim happens before
// any state is read so that a concurrent redelivery cannot race past it.
type WebhookPipeline struct {
	adapters map[billing.Provider]ProviderAdapter
	dedup    shared.DedupStore
	dedupTTL time.Duration
	tenants  identity.TenantRepository
	audits   billing.AuditRepository
	engine   *TransitionEngine
	validate *validator.Validate
	metrics  *telemetry.BillingMetrics
	logger   *zap.Logger
	timeout  time.Duration
}

// WebhookPipelineConfig contains dependencies for the WebhookPipeline
type WebhookPipelineConfig struct {
	Adapters []ProviderAdapter
	Dedup    shared.DedupStore
	DedupCfg shared.DedupConfig
	Tenants  identity.TenantRepository
	Audits   billing.AuditRepository
	Engine   *TransitionEngine
	Metrics  *telemetry.BillingMetrics
	Logger   *zap.Logger
	Timeout  time.Duration
}

// NewWebhookPipeline creates a pipeline over the given provider adapters
func NewWebhookPipeline(cfg WebhookPipelineConfig) *WebhookPipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultProcessTimeout
	}
	ttl := cfg.DedupCfg.TTL
	if ttl == 0 {
		ttl = shared.DefaultDedupConfig().TTL
	}

	adapters := make(map[billing.Provider]ProviderAdapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Provider()] = a
	}

	return &WebhookPipeline{
		adapters: adapters,
		dedup:    cfg.Dedup,
		dedupTTL: ttl,
		tenants:  cfg.Tenants,
		audits:   cfg.Audits,
		engine:   cfg.Engine,
		validate: validator.New(),
		metrics:  cfg.Metrics,
		logger:   logger,
		timeout:  timeout,
	}
}

// Process runs one delivery through the pipeline and returns the outcome.
// The returned outcome is always safe to map to an HTTP status; internal
// errors are logged here and never leak payload contents.
func (p *WebhookPipeline) Process(ctx context.Context, provider billing.Provider, payload []byte, sigHeader string) billing.Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outcome := p.process(ctx, provider, payload, sigHeader)
	p.metrics.RecordOutcome(ctx, string(provider), string(outcome.Kind), string(outcome.Status))
	return outcome
}

func (p *WebhookPipeline) process(ctx context.Context, provider billing.Provider, payload []byte, sigHeader string) billing.Outcome {
	adapter, ok := p.adapters[provider]
	if !ok {
		p.logger.Warn("Webhook for unconfigured provider",
			zap.String("provider", string(provider)))
		return billing.Rejected(billing.RejectMalformed)
	}

	now := time.Now()

	ev, err := adapter.VerifyAndDecode(payload, sigHeader, now)
	if err != nil {
		return p.rejectVerification(ctx, provider, err)
	}

	// The provider's declared occurrence timestamp must also fall within
	// the window; the signature timestamp alone does not bound replay of
	// an old but freshly re-signed delivery.
	if drift := now.Sub(ev.OccurredAt); drift > infra.FreshnessWindow || drift < -infra.FreshnessWindow {
		p.logger.Warn("Webhook event outside freshness window",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID),
			zap.Time("occurred_at", ev.OccurredAt))
		p.metrics.RecordSecurityRejection(ctx, string(provider), billing.RejectStale)
		return billing.Rejected(billing.RejectStale)
	}

	claimed, err := p.dedup.Claim(ctx, string(provider), ev.ProviderEventID, p.dedupTTL)
	if err != nil {
		// Fail closed. Without the claim we cannot prove this delivery was
		// not already applied, so we ask the provider to redeliver rather
		// than risk a double application.
		p.logger.Error("Dedup store unavailable",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID),
			zap.Error(err))
		return billing.TransientFailure("dedup store unavailable")
	}
	if !claimed {
		p.logger.Info("Duplicate webhook delivery dropped",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID))
		return billing.Duplicate(ev.ProviderEventID)
	}

	if ev.Kind == billing.KindUnknown {
		p.logger.Info("Webhook event kind not handled",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID),
			zap.String("raw_type", ev.RawType))
		return billing.Ignored(ev.ProviderEventID, "event type not handled")
	}

	if err := p.validate.Struct(ev); err != nil {
		p.logger.Warn("Webhook event failed schema validation",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID),
			zap.Error(err))
		return billing.Rejected(billing.RejectMalformed)
	}

	tenant, outcome, ok := p.resolveTenant(ctx, ev)
	if !ok {
		return outcome
	}

	correlationID := uuid.NewString()
	result, err := p.engine.Apply(ctx, tenant.ID, ev, correlationID)
	if err != nil {
		if errors.Is(err, shared.ErrCustomerRebind) {
			p.rejectOwnership(ctx, tenant.ID, ev, "tenant already bound to a different customer")
			return result
		}
		p.logger.Error("Transition engine failed",
			zap.String("provider", string(provider)),
			zap.String("event_id", ev.ProviderEventID),
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		return result
	}

	return result
}

// resolveTenant locates the tenant the event belongs to and enforces the
// ownership invariant. The claimed tenant ID in payload metadata is
// caller-supplied; the stored provider customer binding is the only anchor
// trusted here. The third return value is false when the pipeline must
// stop with the given outcome.
func (p *WebhookPipeline) resolveTenant(ctx context.Context, ev *billing.CanonicalEvent) (*identity.Tenant, billing.Outcome, bool) {
	if ev.ClaimedTenantID != "" {
		tenantID, err := uuid.Parse(ev.ClaimedTenantID)
		if err != nil {
			// Validation already enforced the uuid format
			return nil, billing.Rejected(billing.RejectMalformed), false
		}

		tenant, err := p.tenants.FindByID(ctx, tenantID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// A signed event naming a tenant we do not know is most
				// likely a stale or cross-environment delivery, not forgery
				p.logger.Warn("Webhook claims unknown tenant",
					zap.String("provider", string(ev.Provider)),
					zap.String("event_id", ev.ProviderEventID),
					zap.String("claimed_tenant_id", truncateID(ev.ClaimedTenantID)))
				return nil, billing.Ignored(ev.ProviderEventID, "unknown tenant"), false
			}
			p.logger.Error("Tenant lookup failed",
				zap.String("event_id", ev.ProviderEventID),
				zap.Error(err))
			return nil, billing.TransientFailure("tenant lookup failed"), false
		}

		// A bound tenant only accepts events for its own provider customer
		if tenant.IsBound() && ev.CustomerID != "" && tenant.ProviderCustomerID != ev.CustomerID {
			p.rejectOwnership(ctx, tenant.ID, ev, "claimed tenant bound to a different customer")
			return nil, billing.Rejected(billing.RejectOwnership), false
		}

		return tenant, billing.Outcome{}, true
	}

	if ev.CustomerID == "" {
		p.logger.Info("Webhook carries neither tenant claim nor customer",
			zap.String("provider", string(ev.Provider)),
			zap.String("event_id", ev.ProviderEventID))
		return nil, billing.Ignored(ev.ProviderEventID, "no tenant reference"), false
	}

	tenant, err := p.tenants.FindByProviderCustomerID(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			p.logger.Warn("Webhook for unbound provider customer",
				zap.String("provider", string(ev.Provider)),
				zap.String("event_id", ev.ProviderEventID),
				zap.String("customer_id", truncateID(ev.CustomerID)))
			return nil, billing.Ignored(ev.ProviderEventID, "unknown customer"), false
		}
		p.logger.Error("Tenant lookup by customer failed",
			zap.String("event_id", ev.ProviderEventID),
			zap.Error(err))
		return nil, billing.TransientFailure("tenant lookup failed"), false
	}

	return tenant, billing.Outcome{}, true
}

// rejectVerification maps a verification error to its outcome, logging with
// truncated identifiers only; rejected payloads are attacker-controlled and
// must not reach the logs verbatim
func (p *WebhookPipeline) rejectVerification(ctx context.Context, provider billing.Provider, err error) billing.Outcome {
	switch {
	case errors.Is(err, shared.ErrStaleEvent):
		p.logger.Warn("Webhook rejected: stale",
			zap.String("provider", string(provider)), zap.Error(err))
		p.metrics.RecordSecurityRejection(ctx, string(provider), billing.RejectStale)
		return billing.Rejected(billing.RejectStale)
	case errors.Is(err, shared.ErrSignatureInvalid):
		p.logger.Warn("Webhook rejected: signature verification failed",
			zap.String("provider", string(provider)))
		p.metrics.RecordSecurityRejection(ctx, string(provider), billing.RejectSignature)
		return billing.Rejected(billing.RejectSignature)
	default:
		p.logger.Warn("Webhook rejected: malformed payload",
			zap.String("provider", string(provider)), zap.Error(err))
		p.metrics.RecordSecurityRejection(ctx, string(provider), billing.RejectMalformed)
		return billing.Rejected(billing.RejectMalformed)
	}
}

// rejectOwnership records an ownership violation: a security rejection
// metric plus an audit row. The audit write runs outside any transaction
// since there is no accompanying mutation, and a failure to write it never
// changes the rejection.
func (p *WebhookPipeline) rejectOwnership(ctx context.Context, tenantID uuid.UUID, ev *billing.CanonicalEvent, note string) {
	p.logger.Warn("Webhook rejected: ownership mismatch",
		zap.String("provider", string(ev.Provider)),
		zap.String("event_id", ev.ProviderEventID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("customer_id", truncateID(ev.CustomerID)))
	p.metrics.RecordSecurityRejection(ctx, string(ev.Provider), billing.RejectOwnership)

	meta, _ := json.Marshal(map[string]string{
		"provider":          string(ev.Provider),
		"provider_event_id": ev.ProviderEventID,
		"event_kind":        string(ev.Kind),
		"note":              note,
	})
	audit := billing.NewAuditEvent(tenantID, billing.AuditActorSystem,
		billing.AuditActionWebhookRejected, "webhook", ev.ProviderEventID,
		string(meta), uuid.NewString())
	if err := p.audits.Append(ctx, audit); err != nil {
		p.logger.Error("Failed to record rejection audit row",
			zap.String("event_id", ev.ProviderEventID), zap.Error(err))
	}
}

// truncateID shortens an identifier for log output
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return fmt.Sprintf("%s...", id[:8])
}
