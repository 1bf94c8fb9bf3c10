// Package stream defines the core interfaces and types for stream log
// backends. Each backend implementation (sqlite, redis, memory) lives in its
// own sub-package and registers itself with the backend registry.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/logging"
)

// ErrStoreUnavailable wraps storage-layer failures so callers can distinguish
// infrastructure trouble from usage errors.
var ErrStoreUnavailable = errors.New("stream: store unavailable")

// Unavailable wraps err as an ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Entry is the log's wrapper around a published event. DeliveryID is assigned
// at append time, is totally ordered and never reused within a stream, and is
// stable across redeliveries of the same log position. It is the primary
// identity for idempotent consumption.
type Entry struct {
	DeliveryID string
	Event      envelope.Event
}

// Log is an append-only, partitioned-by-stream-name durable log with
// consumer-group cursors. All methods are safe for concurrent use.
type Log interface {
	// Append durably persists the event on the named stream and returns the
	// assigned delivery id. It fails only on storage unavailability.
	Append(ctx context.Context, stream string, event envelope.Event) (string, error)

	// ReadGroup returns up to count entries for the named consumer: entries
	// previously delivered to this consumer name that were never
	// acknowledged (crash recovery) first, then new entries past the group
	// cursor. When nothing is available it blocks up to block waiting for
	// new entries, returning early on context cancellation.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Entry, error)

	// Ack removes the entry from the group's pending list. Acknowledging an
	// unknown or already-acknowledged delivery id is a no-op.
	Ack(ctx context.Context, stream, group, deliveryID string) error

	// ClaimStale reassigns up to count entries that have been pending longer
	// than minIdle to the calling consumer, so entries owned by a dead
	// consumer process are recovered. The per-entry delivery count keeps
	// accumulating across ownership changes.
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Entry, error)

	// PendingCount reports the depth of the group's pending list.
	PendingCount(ctx context.Context, stream, group string) (int64, error)

	// Trim drops the oldest entries so at most maxLen remain, independent of
	// consumer progress, and returns the number removed.
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)

	Close() error
}

// DeliveryCounter is implemented by backends that track how many times an
// entry has been delivered. The consumer uses it to route entries that keep
// failing to the dead-letter stream.
type DeliveryCounter interface {
	DeliveryCount(ctx context.Context, stream, group, deliveryID string) (int64, error)
}

// Builder is the function signature for creating a stream log from config.
type Builder func(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Log, error)

// Config provides the configuration values needed by backends. The interface
// lets each backend access only the keys it needs without depending on the
// full config package.
type Config interface {
	// GetStreamBackend returns the backend name ("sqlite", "redis", "memory").
	GetStreamBackend() string

	// SQLite
	GetSQLiteFile() string

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

// DeadLetterStream returns the conventional dead-letter stream name for a
// source stream.
func DeadLetterStream(stream string) string {
	return stream + ":dlq"
}
