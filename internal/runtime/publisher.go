package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/errs"
	"github.com/platformkit/eventstream/internal/runtime/ids"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// DefaultPublishMaxElapsed bounds how long Publish keeps retrying a failing
// append before dropping the event.
const DefaultPublishMaxElapsed = 5 * time.Second

// Publisher appends events to the stream log on behalf of producer modules.
//
// Publish is deliberately fire-and-forget: the business operation that
// triggers publication must already have durably committed its own state
// change before Publish is invoked, and an event that cannot be appended is
// logged and dropped rather than surfaced. A producer's operation must never
// fail because an event failed to publish.
//
// Safe for concurrent use from any number of goroutines.
type Publisher struct {
	log        stream.Log
	logger     logging.ServiceLogger
	metrics    *Metrics
	maxElapsed time.Duration
}

// NewPublisher creates a Publisher. logger and metrics may be nil.
func NewPublisher(log stream.Log, logger logging.ServiceLogger, metrics *Metrics) (*Publisher, error) {
	if log == nil {
		return nil, errs.ErrLogRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Publisher{
		log:        log,
		logger:     logger,
		metrics:    metrics,
		maxElapsed: DefaultPublishMaxElapsed,
	}, nil
}

// WithRetryBudget bounds how long a failing append is retried before the
// event is dropped, and returns the publisher for chaining. Values <= 0
// restore the default.
func (p *Publisher) WithRetryBudget(d time.Duration) *Publisher {
	if d <= 0 {
		d = DefaultPublishMaxElapsed
	}
	p.maxElapsed = d
	return p
}

// Publish appends the event to the named stream. Append failures are retried
// with exponential backoff and, if the store stays unavailable, logged at
// error level with the full event context and swallowed.
func (p *Publisher) Publish(ctx context.Context, streamName string, event envelope.Event) {
	if _, err := p.TryPublish(ctx, streamName, event); err != nil {
		p.metrics.PublishFailures.WithLabelValues(streamName).Inc()
		p.logger.Error("dropping event: append failed", err, logging.LogFields{
			"stream":     streamName,
			"event_id":   event.ID,
			"event_type": event.Type,
			"source":     event.Source,
			"target":     event.Target,
			"payload":    event.Payload,
			"meta":       event.Meta,
		})
	}
}

// TryPublish is Publish for callers that need the assigned delivery id or
// want to observe the append error themselves (tests, admin tooling). The
// same retry policy applies.
func (p *Publisher) TryPublish(ctx context.Context, streamName string, event envelope.Event) (string, error) {
	if streamName == "" {
		return "", errs.ErrStreamNameRequired
	}

	// Fill construction defaults for events assembled by hand.
	if event.ID == "" {
		event.ID = ids.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Meta.SchemaVersion == 0 {
		event.Meta.SchemaVersion = 1
	}
	if event.Meta.Producer == "" {
		event.Meta.Producer = event.Source
	}
	if event.Meta.SourceModule == "" {
		event.Meta.SourceModule = event.Source
	}
	if err := event.Validate(); err != nil {
		return "", err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = p.maxElapsed

	var deliveryID string
	operation := func() error {
		id, err := p.log.Append(ctx, streamName, event)
		if err != nil {
			return err
		}
		deliveryID = id
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}

	p.metrics.Published.WithLabelValues(streamName).Inc()
	p.logger.Debug("event published", logging.LogFields{
		"stream":      streamName,
		"event_id":    event.ID,
		"event_type":  event.Type,
		"delivery_id": deliveryID,
	})
	return deliveryID, nil
}
