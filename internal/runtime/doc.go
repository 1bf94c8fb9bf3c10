// Package runtime hosts the event stream core: the publisher, the
// idempotent consumer loop, the handler registry, and the service wiring
// that assembles them from config. The root eventstream package re-exports
// the public surface.
package runtime
