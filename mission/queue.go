package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platformkit/eventstream/internal/runtime"
	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/errs"
	"github.com/platformkit/eventstream/internal/runtime/logging"
)

// DefaultStream is where mission lifecycle events are published unless the
// queue is configured otherwise.
const DefaultStream = "platform:events"

// Queue is the enqueue-and-query surface handed to business modules. Status
// transitions after enqueue belong to the Worker alone.
type Queue struct {
	store     Store
	publisher *runtime.Publisher
	stream    string
	source    string
	logger    logging.ServiceLogger
}

// QueueOptions configures a Queue. Store is required; the rest default.
type QueueOptions struct {
	Store     Store
	Publisher *runtime.Publisher // nil disables lifecycle events
	Stream    string             // defaults to DefaultStream
	Source    string             // event source, defaults to "mission-queue"
	Logger    logging.ServiceLogger
}

// NewQueue creates a Queue.
func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.Store == nil {
		return nil, errs.ErrStoreRequired
	}
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Source == "" {
		opts.Source = "mission-queue"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Queue{
		store:     opts.Store,
		publisher: opts.Publisher,
		stream:    opts.Stream,
		source:    opts.Source,
		logger:    opts.Logger,
	}, nil
}

// Enqueue persists the mission and returns its id. The created event is
// published only after the insert has committed, and a publish failure never
// fails the enqueue.
func (q *Queue) Enqueue(ctx context.Context, m Mission) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = DefaultMaxRetries
	}
	m.Status = StatusPending

	if err := q.store.Insert(ctx, m); err != nil {
		return "", fmt.Errorf("enqueue mission: %w", err)
	}

	q.logger.Debug("mission enqueued", logging.LogFields{
		"mission_id": m.ID,
		"priority":   m.Priority.String(),
	})
	q.emit(ctx, EventCreated, m)
	return m.ID, nil
}

// Status returns the current mission record by id.
func (q *Queue) Status(ctx context.Context, id string) (Mission, error) {
	return q.store.Get(ctx, id)
}

// PendingCount reports how many missions are waiting to run.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.store.PendingCount(ctx)
}

func (q *Queue) emit(ctx context.Context, eventType string, m Mission) {
	if q.publisher == nil {
		return
	}
	event := lifecycleEvent(eventType, q.source, m)
	q.publisher.Publish(ctx, q.stream, event)
}

// lifecycleEvent builds the envelope for one mission state transition. The
// payload references the mission by id; the full payload stays in the store.
func lifecycleEvent(eventType, source string, m Mission) envelope.Event {
	payload := map[string]any{
		"mission_id":  m.ID,
		"priority":    m.Priority.String(),
		"status":      string(m.Status),
		"retry_count": m.RetryCount,
	}
	if m.LastError != "" {
		payload["reason"] = m.LastError
	}
	return envelope.New(eventType, source, payload).WithMissionID(m.ID)
}
