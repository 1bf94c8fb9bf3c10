// Package dedup persists idempotency markers for consumed stream entries.
// A row keyed by (subscriber, delivery id) means the associated handlers have
// already run to completion, or were deliberately skipped as a permanent
// failure, and must not run again. The storage-level unique constraint on
// that pair, not application logic, is the final authority preventing
// double-processing when consumer instances race on a redelivered entry.
package dedup

import (
	"context"
	"time"
)

// DefaultRetention is how long processed records are kept before Prune
// removes them.
const DefaultRetention = 90 * 24 * time.Hour

// Record is one processed-entry marker.
type Record struct {
	Subscriber string
	DeliveryID string
	// EventID is the application-level event id, stored for audit and
	// correlation only. It is never part of the uniqueness key.
	EventID     string
	ProcessedAt time.Time
}

// Store is the persistent dedup table.
type Store interface {
	// MarkProcessed inserts the marker. It returns false when the row
	// already existed, which means another consumer got there first.
	MarkProcessed(ctx context.Context, subscriber, deliveryID, eventID string, at time.Time) (bool, error)

	// Seen reports whether the (subscriber, delivery id) pair is recorded.
	Seen(ctx context.Context, subscriber, deliveryID string) (bool, error)

	// FindByEventID returns all records for an application event id, for
	// audit and correlation.
	FindByEventID(ctx context.Context, eventID string) ([]Record, error)

	// Prune deletes records processed before the cutoff and returns the
	// number removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
