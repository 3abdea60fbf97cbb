package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/planform/backend/internal/domain/billing"
	"github.com/planform/backend/internal/domain/identity"
	"github.com/planform/backend/internal/domain/shared"
)

// openTestDB opens an in-memory SQLite database. The engine only uses it for
// transaction demarcation; the fakes below hold the actual state.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

type fakeTenantRepo struct {
	byID    map[uuid.UUID]*identity.Tenant
	findErr error
	saveErr error
	saves   int
}

func newFakeTenantRepo(tenants ...*identity.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{byID: make(map[uuid.UUID]*identity.Tenant)}
	for _, tenant := range tenants {
		r.byID[tenant.ID] = tenant
	}
	return r
}

func (r *fakeTenantRepo) FindByID(_ context.Context, id uuid.UUID) (*identity.Tenant, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	tenant, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return tenant, nil
}

func (r *fakeTenantRepo) FindBySlug(_ context.Context, slug string) (*identity.Tenant, error) {
	for _, tenant := range r.byID {
		if tenant.Slug == slug {
			return tenant, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeTenantRepo) FindByProviderCustomerID(_ context.Context, customerID string) (*identity.Tenant, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	if customerID == "" {
		return nil, errors.New("customer ID cannot be empty")
	}
	for _, tenant := range r.byID {
		if tenant.ProviderCustomerID == customerID {
			return tenant, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeTenantRepo) FindByIDForUpdate(ctx context.Context, _ *gorm.DB, id uuid.UUID) (*identity.Tenant, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeTenantRepo) Save(_ context.Context, tenant *identity.Tenant) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.byID[tenant.ID] = tenant
	r.saves++
	return nil
}

func (r *fakeTenantRepo) SaveTx(ctx context.Context, _ *gorm.DB, tenant *identity.Tenant) error {
	return r.Save(ctx, tenant)
}

func (r *fakeTenantRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.byID, id)
	return nil
}

type fakeSubscriptionRepo struct {
	byKey   map[string]*billing.Subscription
	saveErr error
	txReads int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byKey: make(map[string]*billing.Subscription)}
}

func subKey(provider billing.Provider, id string) string {
	return string(provider) + "/" + id
}

func (r *fakeSubscriptionRepo) FindByProviderSubscriptionID(_ context.Context, provider billing.Provider, id string) (*billing.Subscription, error) {
	sub, ok := r.byKey[subKey(provider, id)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return sub, nil
}

func (r *fakeSubscriptionRepo) FindByProviderSubscriptionIDTx(ctx context.Context, tx *gorm.DB, provider billing.Provider, id string) (*billing.Subscription, error) {
	if tx != nil {
		r.txReads++
	}
	return r.FindByProviderSubscriptionID(ctx, provider, id)
}

func (r *fakeSubscriptionRepo) FindByTenant(_ context.Context, tenantID uuid.UUID) ([]billing.Subscription, error) {
	var subs []billing.Subscription
	for _, sub := range r.byKey {
		if sub.TenantID == tenantID {
			subs = append(subs, *sub)
		}
	}
	return subs, nil
}

func (r *fakeSubscriptionRepo) CountActiveForTenantExcluding(_ context.Context, _ *gorm.DB, tenantID uuid.UUID, provider billing.Provider, excludeID string) (int64, error) {
	var count int64
	for _, sub := range r.byKey {
		if sub.TenantID != tenantID || !sub.IsActive() {
			continue
		}
		if sub.Provider == provider && sub.ProviderSubscriptionID == excludeID {
			continue
		}
		count++
	}
	return count, nil
}

func (r *fakeSubscriptionRepo) SaveTx(_ context.Context, _ *gorm.DB, sub *billing.Subscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.byKey[subKey(sub.Provider, sub.ProviderSubscriptionID)] = sub
	return nil
}

type fakeAuditRepo struct {
	txRows    []billing.AuditEvent
	rows      []billing.AuditEvent
	appendErr error
}

func (r *fakeAuditRepo) AppendTx(_ context.Context, _ *gorm.DB, event *billing.AuditEvent) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.txRows = append(r.txRows, *event)
	return nil
}

func (r *fakeAuditRepo) Append(_ context.Context, event *billing.AuditEvent) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.rows = append(r.rows, *event)
	return nil
}

func (r *fakeAuditRepo) FindByTenant(_ context.Context, tenantID uuid.UUID, _ int) ([]billing.AuditEvent, error) {
	var events []billing.AuditEvent
	for _, ev := range append(append([]billing.AuditEvent{}, r.txRows...), r.rows...) {
		if ev.TenantID == tenantID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (r *fakeAuditRepo) FindCreatedBetween(_ context.Context, _, _ time.Time, _ int) ([]billing.AuditEvent, error) {
	return append(append([]billing.AuditEvent{}, r.txRows...), r.rows...), nil
}

// failingDedupStore simulates a dedup backend outage
type failingDedupStore struct{}

func (failingDedupStore) Claim(context.Context, string, string, time.Duration) (bool, error) {
	return false, shared.ErrDedupUnavailable
}

func (failingDedupStore) Close() error { return nil }

var (
	_ identity.TenantRepository      = (*fakeTenantRepo)(nil)
	_ billing.SubscriptionRepository = (*fakeSubscriptionRepo)(nil)
	_ billing.AuditRepository        = (*fakeAuditRepo)(nil)
	_ shared.DedupStore              = failingDedupStore{}
)
