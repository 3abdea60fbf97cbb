package shared

// BaseAggregateRoot extends BaseEntity with a version counter. Every
// state-changing method on an aggregate bumps the version, which backs
// optimistic locking on tenant and subscription rows.
type BaseAggregateRoot struct {
	BaseEntity
	Version int `gorm:"not null;default:1"`
}

// IncrementVersion bumps the version counter.
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// NewBaseAggregateRoot returns a BaseAggregateRoot at version 1.
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity: NewBaseEntity(),
		Version:    1,
	}
}
