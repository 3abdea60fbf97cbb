package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the persistence interface for provider
// subscriptions
type SubscriptionRepository interface {
	// FindByProviderSubscriptionID finds a subscription by its provider ID
	FindByProviderSubscriptionID(ctx context.Context, provider Provider, providerSubscriptionID string) (*Subscription, error)

	// FindByProviderSubscriptionIDTx is FindByProviderSubscriptionID on an
	// existing transaction, so the read shares the snapshot of the row lock
	// the caller holds
	FindByProviderSubscriptionIDTx(ctx context.Context, tx *gorm.DB, provider Provider, providerSubscriptionID string) (*Subscription, error)

	// FindByTenant lists all subscriptions held by a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]Subscription, error)

	// CountActiveForTenantExcluding counts a tenant's active subscriptions,
	// excluding the given provider subscription. Drives the cancellation
	// decision: only downgrade when no other active subscription remains.
	CountActiveForTenantExcluding(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, provider Provider, excludeSubscriptionID string) (int64, error)

	// SaveTx creates or updates a subscription inside an existing transaction
	SaveTx(ctx context.Context, tx *gorm.DB, sub *Subscription) error
}

// AuditRepository defines the persistence interface for the append-only
// audit trail
type AuditRepository interface {
	// AppendTx appends an audit row inside an existing transaction. Accepted
	// transitions must use this so the row commits atomically with the
	// state mutation.
	AppendTx(ctx context.Context, tx *gorm.DB, event *AuditEvent) error

	// Append appends an audit row outside any transaction (security
	// rejections, which have no accompanying mutation)
	Append(ctx context.Context, event *AuditEvent) error

	// FindByTenant lists audit rows for a tenant, newest first
	FindByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditEvent, error)

	// FindCreatedBetween lists audit rows in a half-open interval, oldest
	// first. Used by the archive exporter.
	FindCreatedBetween(ctx context.Context, from, to time.Time, limit int) ([]AuditEvent, error)
}
