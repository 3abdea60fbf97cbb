package shared

import (
	"context"
	"time"
)

// DedupStore claims provider event IDs so that an at-least-once delivered
// webhook is admitted at most once across all instances.
//
// Claim must be a single atomic set-if-absent operation. It returns true when
// this call claimed the event for the first time and false when the event was
// already claimed. Any store failure must surface as an error wrapping
// ErrDedupUnavailable; implementations never treat an outage as "not a
// duplicate". Claims are not released on processing failure: an event that
// fails after claiming stays dropped until the TTL expires, which trades
// "never lose an event" for "never double-apply".
type DedupStore interface {
	Claim(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// DedupConfig holds configuration for webhook deduplication
type DedupConfig struct {
	// TTL is the time-to-live for claimed event IDs. A provider redelivering
	// the same event ID after the TTL is reprocessed as a new event; the TTL
	// is configurable precisely because that tradeoff is deployment-specific.
	// Default: 24 hours
	TTL time.Duration
}

// DefaultDedupConfig returns the default dedup configuration
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		TTL: 24 * time.Hour,
	}
}

// DedupKey builds the store key for a provider event. Keys are scoped per
// provider so that event IDs from different providers cannot collide.
func DedupKey(provider, eventID string) string {
	return provider + ":event:" + eventID
}
