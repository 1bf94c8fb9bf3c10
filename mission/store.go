package mission

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a mission id is unknown.
var ErrNotFound = errors.New("mission: not found")

// Store is the durable mission queue. Dequeue must claim transactionally so
// a mission attempt is never owned by two workers at once.
type Store interface {
	// Insert persists a new PENDING mission.
	Insert(ctx context.Context, m Mission) error

	// Dequeue pops the highest-priority, oldest-enqueued PENDING mission,
	// atomically marking it RUNNING. Returns ok=false when the queue is
	// empty.
	Dequeue(ctx context.Context) (m Mission, ok bool, err error)

	// Requeue records a failed attempt. While retries remain the mission
	// returns to PENDING at its original priority with retry_count
	// incremented; once retries are exhausted it transitions to FAILED
	// instead. The updated mission is returned so the caller can tell
	// which happened.
	Requeue(ctx context.Context, id, reason string) (Mission, error)

	// Complete marks a RUNNING mission COMPLETED.
	Complete(ctx context.Context, id string) (Mission, error)

	// Fail marks a mission FAILED terminally with the reason recorded.
	Fail(ctx context.Context, id, reason string) (Mission, error)

	// Get returns the mission by id.
	Get(ctx context.Context, id string) (Mission, error)

	// PendingCount reports how many missions are waiting to run.
	PendingCount(ctx context.Context) (int64, error)

	Close() error
}
