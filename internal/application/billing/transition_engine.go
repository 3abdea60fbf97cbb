package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/identity"
	"github.com/planform/backend/internal/domain/shared"
	"github.com/planform/backend/internal/infrastructure/telemetry"
)

// TransitionEngine applies canonical billing events to tenant plan state.
// Every application runs in a single database transaction that re-reads the
// tenant under its row lock, writes the new state, and appends exactly one
// audit row before committing. Two concurrently delivered events for the
// same tenant serialize on the lock; the second re-reads fresh state, so
// the final state reflects a total order consistent with lock acquisition.
type TransitionEngine struct {
	db            *gorm.DB
	tenants       identity.TenantRepository
	subscriptions billing.SubscriptionRepository
	audits        billing.AuditRepository
	metrics       *telemetry.BillingMetrics
	logger        *zap.Logger
}

// TransitionEngineConfig contains dependencies for the TransitionEngine
type TransitionEngineConfig struct {
	DB            *gorm.DB
	Tenants       identity.TenantRepository
	Subscriptions billing.SubscriptionRepository
	Audits        billing.AuditRepository
	Metrics       *telemetry.BillingMetrics
	Logger        *zap.Logger
}

// NewTransitionEngine creates a new TransitionEngine
func NewTransitionEngine(cfg TransitionEngineConfig) *TransitionEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransitionEngine{
		db:            cfg.DB,
		tenants:       cfg.Tenants,
		subscriptions: cfg.Subscriptions,
		audits:        cfg.Audits,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// Apply executes the state machine for one verified, deduplicated event.
// On any failure the whole transaction rolls back and the error propagates
// so the provider redelivers. A rollback failure is chained onto the
// original error; it can leave the row lock held or the audit trail
// inconsistent with the data, so it must never be swallowed.
func (e *TransitionEngine) Apply(ctx context.Context, tenantID uuid.UUID, ev *billing.CanonicalEvent, correlationID string) (billing.Outcome, error) {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return billing.TransientFailure("failed to begin transaction"), fmt.Errorf("begin transaction: %w", tx.Error)
	}

	outcome, err := e.applyLocked(ctx, tx, tenantID, ev, correlationID)
	if err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			e.logger.Error("Transaction rollback failed after transition error",
				zap.String("provider", string(ev.Provider)),
				zap.String("event_id", ev.ProviderEventID),
				zap.Error(err))
		}
		if outcome.Status == "" {
			outcome = billing.TransientFailure("transition failed")
		}
		return outcome, err
	}

	if commitErr := tx.Commit().Error; commitErr != nil {
		return billing.TransientFailure("failed to commit transaction"), fmt.Errorf("commit transaction: %w", commitErr)
	}

	return outcome, nil
}

// transition captures the result of applying the state machine so that the
// audit row is written exactly once, in the same transaction
type transition struct {
	action   string
	entityID string
	metadata map[string]string
}

// applyLocked runs inside the transaction with the tenant row lock held
func (e *TransitionEngine) applyLocked(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ev *billing.CanonicalEvent, correlationID string) (billing.Outcome, error) {
	tenant, err := e.tenants.FindByIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return billing.TransientFailure("failed to lock tenant row"), fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}

	var tr *transition
	switch ev.Kind {
	case billing.KindCheckoutCompleted:
		tr, err = e.applyCheckoutCompleted(ctx, tx, tenant, ev)
	case billing.KindSubscriptionCreated, billing.KindSubscriptionUpdated:
		tr, err = e.applySubscriptionChange(ctx, tx, tenant, ev)
	case billing.KindSubscriptionCanceled:
		tr, err = e.applySubscriptionCanceled(ctx, tx, tenant, ev)
	case billing.KindPaymentFailed:
		tr, err = e.applyPaymentFailed(ctx, tx, tenant, ev)
	case billing.KindPaymentSucceeded:
		tr, err = e.applyPaymentSucceeded(ctx, tx, tenant, ev)
	default:
		return billing.Ignored(ev.ProviderEventID, "no transition for kind "+string(ev.Kind)), nil
	}

	if err != nil {
		if errors.Is(err, shared.ErrCustomerRebind) {
			// The payload claims a tenant already anchored to a different
			// provider customer. Hard stop before any mutation.
			return billing.Rejected(billing.RejectOwnership), err
		}
		return billing.TransientFailure("transition failed"), err
	}

	if tr == nil {
		return billing.Ignored(ev.ProviderEventID, "already in target state"), nil
	}

	if err := e.tenants.SaveTx(ctx, tx, tenant); err != nil {
		return billing.TransientFailure("failed to save tenant"), fmt.Errorf("save tenant %s: %w", tenant.ID, err)
	}

	audit := billing.NewAuditEvent(
		tenant.ID,
		billing.AuditActorSystem,
		tr.action,
		"tenant",
		tr.entityID,
		e.auditMetadata(tenant, ev, tr.metadata),
		correlationID,
	)
	if err := e.audits.AppendTx(ctx, tx, audit); err != nil {
		return billing.TransientFailure("failed to append audit row"), fmt.Errorf("append audit row: %w", err)
	}

	e.logger.Info("Plan transition applied",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("action", tr.action),
		zap.String("provider", string(ev.Provider)),
		zap.String("event_id", ev.ProviderEventID),
		zap.String("plan", string(tenant.Plan)),
		zap.String("plan_status", string(tenant.PlanStatus)))

	return billing.Applied(ev.ProviderEventID, ev.Kind), nil
}

// applyCheckoutCompleted binds the provider customer to the tenant (write
// once) and activates the paid plan
func (e *TransitionEngine) applyCheckoutCompleted(ctx context.Context, tx *gorm.DB, tenant *identity.Tenant, ev *billing.CanonicalEvent) (*transition, error) {
	wasBound := tenant.IsBound()
	if err := tenant.BindProviderCustomer(ev.CustomerID); err != nil {
		return nil, err
	}
	bound := !wasBound

	upgraded := tenant.ActivatePro()
	if ev.PeriodEnd != nil {
		tenant.SetPlanExpiration(*ev.PeriodEnd)
	}

	subChanged := false
	if ev.SubscriptionID != "" {
		var err error
		subChanged, err = e.upsertSubscription(ctx, tx, tenant.ID, ev, billing.SubscriptionStatusActive)
		if err != nil {
			return nil, err
		}
	}

	if !bound && !upgraded {
		// Redelivered or out-of-order checkout for an already-active tenant.
		// A new subscription row is still a mutation and must commit with its
		// audit row; with no row change there is nothing to record.
		if !subChanged {
			return nil, nil
		}
		return &transition{
			action:   billing.AuditActionSubscriptionUpdated,
			entityID: ev.SubscriptionID,
			metadata: map[string]string{"subscription_status": string(billing.SubscriptionStatusActive)},
		}, nil
	}

	action := billing.AuditActionPlanUpgraded
	if !upgraded {
		action = billing.AuditActionCustomerBound
	}
	return &transition{
		action:   action,
		entityID: tenant.ID.String(),
		metadata: map[string]string{"customer_bound": fmt.Sprintf("%t", bound)},
	}, nil
}

// applySubscriptionChange handles created and updated events. Only an
// active provider status upgrades the plan: an "updated" event also covers
// pauses and failed payments, and upgrading on every update would let a
// paused subscription confer a paid plan. A scheduled change riding on an
// active subscription marks the next period's fate without ending the
// current entitlement.
func (e *TransitionEngine) applySubscriptionChange(ctx context.Context, tx *gorm.DB, tenant *identity.Tenant, ev *billing.CanonicalEvent) (*transition, error) {
	// Paddle has no separate checkout event; its subscription.created is the
	// first delivery that carries the customer, so the binding happens here
	// for tenants not yet anchored.
	if !tenant.IsBound() && ev.CustomerID != "" {
		if err := tenant.BindProviderCustomer(ev.CustomerID); err != nil {
			return nil, err
		}
	}

	status := billing.MapProviderStatus(ev.Status)

	subChanged, err := e.upsertSubscription(ctx, tx, tenant.ID, ev, status)
	if err != nil {
		return nil, err
	}

	if !ev.HasActiveStatus() {
		// Non-active status: bookkeeping only, never an upgrade
		if !subChanged {
			return nil, nil
		}
		return subscriptionUpdatedTransition(ev), nil
	}

	if tenant.IsPro() {
		switch ev.ScheduledChange {
		case billing.ScheduledChangeCancel:
			if tenant.MarkCanceling() {
				return &transition{
					action:   billing.AuditActionCancelScheduled,
					entityID: tenant.ID.String(),
					metadata: map[string]string{"subscription_status": ev.Status, "scheduled_change": ev.ScheduledChange},
				}, nil
			}
			if subChanged {
				return subscriptionUpdatedTransition(ev), nil
			}
			return nil, nil
		case billing.ScheduledChangePause:
			if tenant.ScheduleDowngrade() {
				return &transition{
					action:   billing.AuditActionDowngradeScheduled,
					entityID: tenant.ID.String(),
					metadata: map[string]string{"subscription_status": ev.Status, "scheduled_change": ev.ScheduledChange},
				}, nil
			}
			if subChanged {
				return subscriptionUpdatedTransition(ev), nil
			}
			return nil, nil
		}
	}

	// ActivatePro also restores a tenant whose scheduled cancellation or
	// downgrade was revoked before the period ended.
	upgraded := tenant.ActivatePro()
	if ev.PeriodEnd != nil {
		tenant.SetPlanExpiration(*ev.PeriodEnd)
	}
	if upgraded {
		return &transition{
			action:   billing.AuditActionPlanUpgraded,
			entityID: tenant.ID.String(),
			metadata: map[string]string{"subscription_status": ev.Status},
		}, nil
	}
	if subChanged {
		return subscriptionUpdatedTransition(ev), nil
	}
	return nil, nil
}

// subscriptionUpdatedTransition records a subscription row change that moved
// no plan state
func subscriptionUpdatedTransition(ev *billing.CanonicalEvent) *transition {
	return &transition{
		action:   billing.AuditActionSubscriptionUpdated,
		entityID: ev.SubscriptionID,
		metadata: map[string]string{"subscription_status": ev.Status},
	}
}

// applySubscriptionCanceled marks the subscription canceled and downgrades
// the plan only when the tenant holds no other active subscription
func (e *TransitionEngine) applySubscriptionCanceled(ctx context.Context, tx *gorm.DB, tenant *identity.Tenant, ev *billing.CanonicalEvent) (*transition, error) {
	subChanged, err := e.upsertSubscription(ctx, tx, tenant.ID, ev, billing.SubscriptionStatusCanceled)
	if err != nil {
		return nil, err
	}

	remaining, err := e.subscriptions.CountActiveForTenantExcluding(ctx, tx, tenant.ID, ev.Provider, ev.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("count active subscriptions for tenant %s: %w", tenant.ID, err)
	}

	if remaining > 0 {
		// Another subscription still entitles the tenant; plan stays intact
		if !subChanged {
			return nil, nil
		}
		return &transition{
			action:   billing.AuditActionSubscriptionCanceled,
			entityID: ev.SubscriptionID,
			metadata: map[string]string{"remaining_active": fmt.Sprintf("%d", remaining)},
		}, nil
	}

	downgraded := tenant.Downgrade()
	if !downgraded && !subChanged {
		return nil, nil
	}

	action := billing.AuditActionPlanDowngraded
	if !downgraded {
		action = billing.AuditActionSubscriptionCanceled
	}
	return &transition{
		action:   action,
		entityID: tenant.ID.String(),
		metadata: map[string]string{"remaining_active": "0"},
	}, nil
}

// applyPaymentFailed marks the tenant past_due and read-only and raises a
// critical alert; this is a billing-risk condition, not a routine change
func (e *TransitionEngine) applyPaymentFailed(ctx context.Context, _ *gorm.DB, tenant *identity.Tenant, ev *billing.CanonicalEvent) (*transition, error) {
	if !tenant.MarkPastDue() {
		return nil, nil
	}

	e.metrics.RecordCriticalAlert(ctx, string(ev.Provider), billing.AuditActionPaymentFailed)
	e.logger.Error("CRITICAL: payment failed, tenant marked past_due and read-only",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("provider", string(ev.Provider)),
		zap.String("event_id", ev.ProviderEventID),
		zap.String("amount", ev.Amount.String()),
		zap.String("currency", ev.Currency))

	return &transition{
		action:   billing.AuditActionPaymentFailed,
		entityID: tenant.ID.String(),
		metadata: map[string]string{
			"amount":   ev.Amount.String(),
			"currency": ev.Currency,
		},
	}, nil
}

// applyPaymentSucceeded restores a past_due tenant after payment recovers
func (e *TransitionEngine) applyPaymentSucceeded(_ context.Context, _ *gorm.DB, tenant *identity.Tenant, ev *billing.CanonicalEvent) (*transition, error) {
	if !tenant.RecoverFromPastDue() {
		return nil, nil
	}
	if ev.PeriodEnd != nil {
		tenant.SetPlanExpiration(*ev.PeriodEnd)
	}

	return &transition{
		action:   billing.AuditActionPaymentRecovered,
		entityID: tenant.ID.String(),
		metadata: map[string]string{
			"amount":   ev.Amount.String(),
			"currency": ev.Currency,
		},
	}, nil
}

// upsertSubscription creates or updates the subscription row for an event
// and reports whether anything changed. Both the read and the write run on
// the caller's transaction so the upsert sees one snapshot under the tenant
// row lock.
func (e *TransitionEngine) upsertSubscription(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, ev *billing.CanonicalEvent, status billing.SubscriptionStatus) (bool, error) {
	if ev.SubscriptionID == "" {
		return false, nil
	}

	sub, err := e.subscriptions.FindByProviderSubscriptionIDTx(ctx, tx, ev.Provider, ev.SubscriptionID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return false, fmt.Errorf("find subscription %s: %w", ev.SubscriptionID, err)
		}
		sub, err = billing.NewSubscription(tenantID, ev.Provider, ev.SubscriptionID, status)
		if err != nil {
			return false, err
		}
		if ev.PeriodEnd != nil {
			sub.SetPeriodEnd(*ev.PeriodEnd)
		}
		if err := e.subscriptions.SaveTx(ctx, tx, sub); err != nil {
			return false, fmt.Errorf("create subscription %s: %w", ev.SubscriptionID, err)
		}
		return true, nil
	}

	changed := sub.SetStatus(status)
	if ev.PeriodEnd != nil {
		sub.SetPeriodEnd(*ev.PeriodEnd)
		changed = true
	}
	if !changed {
		return false, nil
	}
	if err := e.subscriptions.SaveTx(ctx, tx, sub); err != nil {
		return false, fmt.Errorf("update subscription %s: %w", ev.SubscriptionID, err)
	}
	return true, nil
}

// auditMetadata serializes the audit metadata blob for a transition
func (e *TransitionEngine) auditMetadata(tenant *identity.Tenant, ev *billing.CanonicalEvent, extra map[string]string) string {
	meta := map[string]string{
		"provider":          string(ev.Provider),
		"provider_event_id": ev.ProviderEventID,
		"event_kind":        string(ev.Kind),
		"resulting_plan":    string(tenant.Plan),
		"resulting_status":  string(tenant.PlanStatus),
	}
	for k, v := range extra {
		meta[k] = v
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		// Metadata is informational; the audit row itself must still commit
		return "{}"
	}
	return string(raw)
}
