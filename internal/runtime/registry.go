package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/errs"
)

// Handler processes one event. Returning nil acknowledges the entry; a
// permanent error (see errclass) acknowledges without retry; anything else
// leaves the entry pending for redelivery.
type Handler func(ctx context.Context, event envelope.Event) error

// Registry maps event-type strings to ordered handler lists. Business modules
// register their handlers here and hand the registry to a Consumer. It is a
// tagged-dispatch table, not reflection: the event type string is the only
// routing key.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Subscribe appends a handler for the event type. Multiple handlers per type
// run in registration order; all of them must succeed before the entry is
// considered processed.
func (r *Registry) Subscribe(eventType string, handler Handler) error {
	if err := envelope.ValidateType(eventType); err != nil {
		return err
	}
	if handler == nil {
		return errs.ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
	return nil
}

// Handlers returns a copy of the handler list for the event type.
func (r *Registry) Handlers(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.handlers[eventType]
	if len(registered) == 0 {
		return nil
	}
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

// Types returns the sorted list of event types with at least one handler.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
