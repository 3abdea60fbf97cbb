package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/shared"
)

// GormSubscriptionRepository implements SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByProviderSubscriptionID finds a subscription by its provider ID
func (r *GormSubscriptionRepository) FindByProviderSubscriptionID(ctx context.Context, provider billing.Provider, providerSubscriptionID string) (*billing.Subscription, error) {
	return findByProviderSubscriptionID(ctx, r.db, provider, providerSubscriptionID)
}

// FindByProviderSubscriptionIDTx is FindByProviderSubscriptionID on the
// caller's transaction
func (r *GormSubscriptionRepository) FindByProviderSubscriptionIDTx(ctx context.Context, tx *gorm.DB, provider billing.Provider, providerSubscriptionID string) (*billing.Subscription, error) {
	return findByProviderSubscriptionID(ctx, tx, provider, providerSubscriptionID)
}

func findByProviderSubscriptionID(ctx context.Context, db *gorm.DB, provider billing.Provider, providerSubscriptionID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindByTenant lists all subscriptions held by a tenant
func (r *GormSubscriptionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]billing.Subscription, error) {
	var subs []billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// CountActiveForTenantExcluding counts a tenant's active subscriptions,
// excluding the given provider subscription. Runs on the caller's
// transaction so the count is consistent with the row lock it holds.
func (r *GormSubscriptionRepository) CountActiveForTenantExcluding(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, provider billing.Provider, excludeSubscriptionID string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&billing.Subscription{}).
		Where("tenant_id = ? AND status IN ?", tenantID, []billing.SubscriptionStatus{
			billing.SubscriptionStatusActive,
			billing.SubscriptionStatusPastDue,
		}).
		Not("provider = ? AND provider_subscription_id = ?", provider, excludeSubscriptionID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveTx creates or updates a subscription inside an existing transaction
func (r *GormSubscriptionRepository) SaveTx(ctx context.Context, tx *gorm.DB, sub *billing.Subscription) error {
	return tx.WithContext(ctx).Save(sub).Error
}

// Ensure GormSubscriptionRepository implements SubscriptionRepository
var _ billing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
