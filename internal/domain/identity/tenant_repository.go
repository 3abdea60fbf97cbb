package identity

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantRepository defines the persistence interface for tenants
type TenantRepository interface {
	// FindByID finds a tenant by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// FindBySlug finds a tenant by its unique slug
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)

	// FindByProviderCustomerID finds the tenant bound to a payment-provider
	// customer. Returns shared.ErrNotFound when no binding exists.
	FindByProviderCustomerID(ctx context.Context, customerID string) (*Tenant, error)

	// FindByIDForUpdate re-reads a tenant inside the given transaction while
	// holding its row lock (SELECT ... FOR UPDATE). Two concurrently
	// delivered events for the same tenant serialize on this lock; the
	// second transaction blocks until the first commits and then sees fresh
	// state.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Tenant, error)

	// Save creates or updates a tenant
	Save(ctx context.Context, tenant *Tenant) error

	// SaveTx saves a tenant inside an existing transaction
	SaveTx(ctx context.Context, tx *gorm.DB, tenant *Tenant) error

	// Delete deletes a tenant
	Delete(ctx context.Context, id uuid.UUID) error
}
