package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planform/backend/internal/domain/billing"
)

// GormAuditRepository implements AuditRepository using GORM. The audit
// trail is append-only: there is deliberately no update or delete path.
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// AppendTx appends an audit row inside an existing transaction
func (r *GormAuditRepository) AppendTx(ctx context.Context, tx *gorm.DB, event *billing.AuditEvent) error {
	return tx.WithContext(ctx).Create(event).Error
}

// Append appends an audit row outside any transaction
func (r *GormAuditRepository) Append(ctx context.Context, event *billing.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// FindByTenant lists audit rows for a tenant, newest first
func (r *GormAuditRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]billing.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []billing.AuditEvent
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// FindCreatedBetween lists audit rows in the half-open interval [from, to),
// oldest first
func (r *GormAuditRepository) FindCreatedBetween(ctx context.Context, from, to time.Time, limit int) ([]billing.AuditEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	var events []billing.AuditEvent
	if err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Ensure GormAuditRepository implements AuditRepository
var _ billing.AuditRepository = (*GormAuditRepository)(nil)
