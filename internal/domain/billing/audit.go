package billing

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the webhook pipeline
const (
	AuditActionPlanUpgraded         = "billing_plan_upgraded"
	AuditActionPlanDowngraded       = "billing_plan_downgraded"
	AuditActionPaymentFailed        = "billing_payment_failed"
	AuditActionPaymentRecovered     = "billing_payment_recovered"
	AuditActionSubscriptionUpdated  = "billing_subscription_status_changed"
	AuditActionSubscriptionCanceled = "billing_subscription_canceled"
	AuditActionCancelScheduled      = "billing_cancellation_scheduled"
	AuditActionDowngradeScheduled   = "billing_downgrade_scheduled"
	AuditActionCustomerBound        = "billing_customer_bound"
	AuditActionWebhookRejected      = "billing_webhook_rejected"
)

// AuditActorSystem is the actor recorded for provider-triggered transitions
const AuditActorSystem = "system"

// AuditEvent is an append-only record of a state transition or a security
// rejection. Accepted transitions write their audit row inside the same
// transaction as the state mutation: no transition is visible without its
// audit trail and no audit row exists without its mutation.
type AuditEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Actor         string    `gorm:"type:varchar(50);not null"`
	Action        string    `gorm:"type:varchar(100);not null;index"`
	EntityType    string    `gorm:"type:varchar(50);not null"`
	EntityID      string    `gorm:"type:varchar(200);not null"`
	Metadata      string    `gorm:"type:jsonb"`
	CorrelationID string    `gorm:"type:varchar(100);index"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates an audit record for a tenant
func NewAuditEvent(tenantID uuid.UUID, actor, action, entityType, entityID, metadata, correlationID string) *AuditEvent {
	return &AuditEvent{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Actor:         actor,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Metadata:      metadata,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
}
