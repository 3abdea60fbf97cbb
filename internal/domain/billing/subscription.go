package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/planform/backend/internal/domain/shared"
)

// SubscriptionStatus is the lifecycle state of a provider subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription tracks one provider subscription held by a tenant. A tenant
// may hold several; cancellation of one only downgrades the plan when no
// other active subscription remains.
type Subscription struct {
	shared.BaseAggregateRoot
	TenantID               uuid.UUID          `gorm:"type:uuid;not null;index"`
	Provider               Provider           `gorm:"type:varchar(20);not null;uniqueIndex:idx_provider_subscription"`
	ProviderSubscriptionID string             `gorm:"type:varchar(100);not null;uniqueIndex:idx_provider_subscription"`
	Status                 SubscriptionStatus `gorm:"type:varchar(20);not null"`
	CurrentPeriodEnd       *time.Time
}

// TableName returns the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// NewSubscription creates a subscription record for a tenant
func NewSubscription(tenantID uuid.UUID, provider Provider, providerSubscriptionID string, status SubscriptionStatus) (*Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, shared.NewDomainError("INVALID_SUBSCRIPTION_ID", "Provider subscription ID cannot be empty")
	}
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT_ID", "Tenant ID cannot be empty")
	}

	return &Subscription{
		BaseAggregateRoot:      shared.NewBaseAggregateRoot(),
		TenantID:               tenantID,
		Provider:               provider,
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 status,
	}, nil
}

// SetStatus updates the subscription status. Returns false when the status
// is unchanged so callers can skip redundant writes.
func (s *Subscription) SetStatus(status SubscriptionStatus) bool {
	if s.Status == status {
		return false
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
	return true
}

// SetPeriodEnd records the end of the current paid period
func (s *Subscription) SetPeriodEnd(end time.Time) {
	s.CurrentPeriodEnd = &end
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
}

// IsActive returns true while the subscription entitles the tenant to a
// paid plan
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}

// MapProviderStatus converts a provider status string to the subscription
// lifecycle state
func MapProviderStatus(status string) SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return SubscriptionStatusActive
	case "past_due", "unpaid":
		return SubscriptionStatusPastDue
	case "paused":
		return SubscriptionStatusPaused
	case "canceled", "deleted":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusPaused
	}
}
