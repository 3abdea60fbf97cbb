package identity

import (
	"strings"
	"time"

	"github.com/planform/backend/internal/domain/shared"
)

// TenantPlan represents the subscription plan of a tenant
type TenantPlan string

const (
	TenantPlanFree TenantPlan = "free"
	TenantPlanPro  TenantPlan = "pro"
)

// PlanStatus represents the billing lifecycle state of a tenant's plan
type PlanStatus string

const (
	PlanStatusInactive    PlanStatus = "inactive"
	PlanStatusActive      PlanStatus = "active"
	PlanStatusPastDue     PlanStatus = "past_due"
	PlanStatusCanceling   PlanStatus = "canceling"
	PlanStatusCanceled    PlanStatus = "canceled"
	PlanStatusDowngrading PlanStatus = "downgrading"
)

// Tenant is the aggregate root for an organization in the multi-tenant
// control plane. Billing state on the tenant is mutated only by the plan
// transition engine, inside a transaction holding the tenant row lock.
type Tenant struct {
	shared.BaseAggregateRoot
	Name       string     `gorm:"type:varchar(200);not null"`
	Slug       string     `gorm:"type:varchar(100);not null;uniqueIndex"`
	Plan       TenantPlan `gorm:"type:varchar(20);not null;default:'free'"`
	PlanStatus PlanStatus `gorm:"type:varchar(20);not null;default:'inactive'"`

	// ProviderCustomerID anchors every subsequent webhook to this tenant.
	// It is set exactly once, at first successful checkout completion, and
	// is never overwritten from webhook payload data.
	ProviderCustomerID string `gorm:"type:varchar(100);uniqueIndex"`

	// ReadOnly is set when the tenant enters past_due so that billing-risk
	// tenants cannot keep mutating state while payment is outstanding.
	ReadOnly bool `gorm:"not null;default:false"`

	PlanExpiresAt *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new tenant with required fields
func NewTenant(name, slug string) (*Tenant, error) {
	if err := validateTenantName(name); err != nil {
		return nil, err
	}
	if err := validateTenantSlug(slug); err != nil {
		return nil, err
	}

	return &Tenant{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Name:              name,
		Slug:              strings.ToLower(slug),
		Plan:              TenantPlanFree,
		PlanStatus:        PlanStatusInactive,
	}, nil
}

// BindProviderCustomer records the payment-provider customer ID for this
// tenant. The binding is write-once: rebinding the same customer is a no-op,
// rebinding a different customer is rejected. Webhook delivery does not
// prove which tenant the payload's metadata belongs to, so this stored
// binding is the only anchor the ownership check may trust.
func (t *Tenant) BindProviderCustomer(customerID string) error {
	if customerID == "" {
		return shared.NewDomainError("INVALID_CUSTOMER_ID", "Provider customer ID cannot be empty")
	}
	if t.ProviderCustomerID != "" {
		if t.ProviderCustomerID == customerID {
			return nil
		}
		return shared.ErrCustomerRebind
	}

	t.ProviderCustomerID = customerID
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return nil
}

// IsBound reports whether a provider customer has been bound to this tenant
func (t *Tenant) IsBound() bool {
	return t.ProviderCustomerID != ""
}

// ActivatePro upgrades the tenant to the pro plan with active status.
// Returns false if the tenant is already in exactly that state, so callers
// can distinguish a real transition from an idempotent no-op.
func (t *Tenant) ActivatePro() bool {
	if t.Plan == TenantPlanPro && t.PlanStatus == PlanStatusActive && !t.ReadOnly {
		return false
	}

	t.Plan = TenantPlanPro
	t.PlanStatus = PlanStatusActive
	t.ReadOnly = false
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// MarkPastDue flags the tenant after a failed payment. The plan is kept
// intact but the tenant becomes read-only until payment recovers.
func (t *Tenant) MarkPastDue() bool {
	if t.PlanStatus == PlanStatusPastDue && t.ReadOnly {
		return false
	}

	t.PlanStatus = PlanStatusPastDue
	t.ReadOnly = true
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// RecoverFromPastDue restores an active paid plan after payment succeeds
func (t *Tenant) RecoverFromPastDue() bool {
	if t.PlanStatus != PlanStatusPastDue {
		return false
	}

	t.PlanStatus = PlanStatusActive
	t.ReadOnly = false
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// MarkCanceling records that cancellation was requested but the paid period
// still runs; the plan stays intact until the final cancellation event.
func (t *Tenant) MarkCanceling() bool {
	if t.PlanStatus == PlanStatusCanceling {
		return false
	}

	t.PlanStatus = PlanStatusCanceling
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// ScheduleDowngrade marks the tenant for a downgrade at period end
func (t *Tenant) ScheduleDowngrade() bool {
	if t.PlanStatus == PlanStatusDowngrading {
		return false
	}

	t.PlanStatus = PlanStatusDowngrading
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// Downgrade returns the tenant to the free plan. Callers must first verify
// that no other active subscription remains for this tenant.
func (t *Tenant) Downgrade() bool {
	if t.Plan == TenantPlanFree && t.PlanStatus == PlanStatusCanceled {
		return false
	}

	t.Plan = TenantPlanFree
	t.PlanStatus = PlanStatusCanceled
	t.ReadOnly = false
	t.PlanExpiresAt = nil
	t.UpdatedAt = time.Now()
	t.IncrementVersion()

	return true
}

// SetPlanExpiration sets the end of the current paid period
func (t *Tenant) SetPlanExpiration(expiresAt time.Time) {
	t.PlanExpiresAt = &expiresAt
	t.UpdatedAt = time.Now()
	t.IncrementVersion()
}

// IsPro returns true if the tenant is on the pro plan
func (t *Tenant) IsPro() bool {
	return t.Plan == TenantPlanPro
}

// IsPastDue returns true if the tenant has an outstanding failed payment
func (t *Tenant) IsPastDue() bool {
	return t.PlanStatus == PlanStatusPastDue
}

// Validation functions

func validateTenantName(name string) error {
	if name == "" {
		return shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if len(name) > 200 {
		return shared.NewDomainError("INVALID_NAME", "Tenant name cannot exceed 200 characters")
	}
	return nil
}

func validateTenantSlug(slug string) error {
	if slug == "" {
		return shared.NewDomainError("INVALID_SLUG", "Tenant slug cannot be empty")
	}
	if len(slug) > 100 {
		return shared.NewDomainError("INVALID_SLUG", "Tenant slug cannot exceed 100 characters")
	}
	for _, r := range slug {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return shared.NewDomainError("INVALID_SLUG", "Tenant slug can only contain letters, numbers, underscores, and hyphens")
		}
	}
	return nil
}
