// Package eventstream is a durable event bus built on an ordered stream log
// with consumer groups. Producers hand events to a Publisher that appends
// them to a named stream; Consumers poll the log as members of a named group,
// run registered handlers, and record every processed delivery id in a dedup
// store so redeliveries never repeat side effects.
//
// Service is the composition root: it reads the target stream backend
// (SQLite, Redis Streams, or in-memory) from Config, opens the dedup store
// (SQLite or PostgreSQL), and hands out Publisher and Consumer handles.
// Components receive the Service by injection; nothing in the runtime relies
// on process-wide singletons, so tests can swap in the memory backend
// wholesale.
//
// # Delivery semantics
//
// The stream log assigns every appended event a delivery id that is totally
// ordered within its stream, never reused, and stable across redeliveries of
// the same log position. That id, not the application event id, keys the
// dedup store: an event republished after a failure gets a fresh delivery id
// and is processed again, while a crash between handler completion and
// acknowledgement replays the same delivery id and is skipped. Delivery is
// at-least-once; handler side effects are at-most-once per delivery id.
//
// Publish is fire-and-forget. The producer's own state change must already
// be durably committed before Publish is called; an append that keeps
// failing is logged and dropped rather than surfaced, so a business
// operation never fails because an event could not be published.
//
// Handler errors are classified: permanent failures are acknowledged with a
// skip marker and never retried, transient failures leave the entry pending
// for redelivery. Entries that keep failing transiently move to a
// dead-letter stream after a bounded number of deliveries.
//
// # Backends
//
// Three stream log backends register themselves on import:
//   - sqlite: embedded durable log, cursors and pending lists in one file
//   - redis: Redis Streams with native consumer groups and blocking reads
//   - memory: in-process log for tests and local development
//
// # Missions
//
// The mission package adds a priority-ordered durable work queue drained by
// a background Worker. The queue is independent of the stream log; the two
// meet only when the worker emits task lifecycle events (created, started,
// completed, retrying, failed) through the Publisher.
package eventstream
