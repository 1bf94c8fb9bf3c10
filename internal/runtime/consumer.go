package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platformkit/eventstream/internal/runtime/dedup"
	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/internal/runtime/errclass"
	"github.com/platformkit/eventstream/internal/runtime/errs"
	"github.com/platformkit/eventstream/internal/runtime/ids"
	"github.com/platformkit/eventstream/internal/runtime/logging"
	"github.com/platformkit/eventstream/stream"
)

// ConsumerOptions tunes a Consumer. Zero values fall back to defaults.
type ConsumerOptions struct {
	// Stream is the log partition to consume.
	Stream string
	// Group is the subscriber name. Every consumer instance sharing this
	// name shares one cursor, one pending list, and one dedup namespace.
	Group string
	// Consumer uniquely names this instance within the group. Defaults to
	// a generated id; pass a stable name to get crash recovery of this
	// instance's own pending entries.
	Consumer string

	// BatchSize bounds entries per ReadGroup call. Defaults to 16.
	BatchSize int
	// Block bounds how long one ReadGroup call waits for new entries.
	// Defaults to 2s.
	Block time.Duration
	// ClaimInterval is how often stale entries from dead consumers are
	// reclaimed. Defaults to 30s.
	ClaimInterval time.Duration
	// ClaimMinIdle is how long an entry must sit pending before it is
	// considered abandoned. Defaults to 60s.
	ClaimMinIdle time.Duration
	// MaxDeliveries bounds total deliveries of one entry, accumulated
	// across consumer ownership changes, before it is republished to the
	// dead-letter stream and acknowledged. 0 applies the default of 10;
	// use a negative value to disable dead-lettering.
	MaxDeliveries int64

	// Classifier maps handler errors to permanent or transient. Defaults
	// to errclass.Classify.
	Classifier errclass.Classifier
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.Consumer == "" {
		o.Consumer = o.Group + "-" + ids.NewEventID()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.Block <= 0 {
		o.Block = 2 * time.Second
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 30 * time.Second
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = time.Minute
	}
	if o.MaxDeliveries == 0 {
		o.MaxDeliveries = 10
	}
	if o.Classifier == nil {
		o.Classifier = errclass.Classify
	}
	return o
}

// Consumer polls the stream log as a named member of a consumer group and
// feeds entries to registered handlers exactly once in effect: delivery is
// at-least-once, but the dedup store keyed by (group, delivery id) keeps
// handler side effects at-most-once.
type Consumer struct {
	log      stream.Log
	dedup    dedup.Store
	registry *Registry
	opts     ConsumerOptions
	logger   logging.ServiceLogger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewConsumer creates a Consumer. logger and metrics may be nil.
func NewConsumer(log stream.Log, store dedup.Store, registry *Registry, opts ConsumerOptions, logger logging.ServiceLogger, metrics *Metrics) (*Consumer, error) {
	if log == nil {
		return nil, errs.ErrLogRequired
	}
	if store == nil {
		return nil, errs.ErrDedupRequired
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.Stream == "" {
		return nil, errs.ErrStreamNameRequired
	}
	if opts.Group == "" {
		return nil, errs.ErrGroupRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}

	opts = opts.withDefaults()
	return &Consumer{
		log:      log,
		dedup:    store,
		registry: registry,
		opts:     opts,
		logger: logger.With(logging.LogFields{
			"stream":   opts.Stream,
			"group":    opts.Group,
			"consumer": opts.Consumer,
		}),
		metrics: metrics,
		tracer:  otel.Tracer("eventstream-consumer"),
	}, nil
}

// Subscribe registers a handler on the consumer's registry.
func (c *Consumer) Subscribe(eventType string, handler Handler) error {
	return c.registry.Subscribe(eventType, handler)
}

// Run polls until ctx is cancelled. Stream-infrastructure errors are logged
// and retried with backoff here; handler failures are classified per entry
// and never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	claimTicker := time.NewTicker(c.opts.ClaimInterval)
	defer claimTicker.Stop()

	readBackoff := backoff.NewExponentialBackOff()
	readBackoff.InitialInterval = 100 * time.Millisecond
	readBackoff.MaxInterval = 5 * time.Second
	readBackoff.MaxElapsedTime = 0 // keep retrying until cancelled

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-claimTicker.C:
			c.claimStale(ctx)
		default:
		}

		entries, err := c.log.ReadGroup(ctx, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize, c.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("read_group failed", err, nil)
			if !sleepCtx(ctx, readBackoff.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		readBackoff.Reset()

		for _, entry := range entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.processEntry(ctx, entry)
		}

		c.observePendingDepth(ctx)
	}
}

// claimStale reassigns abandoned entries from dead consumers to this one and
// runs them through the normal processing path.
func (c *Consumer) claimStale(ctx context.Context) {
	claimed, err := c.log.ClaimStale(ctx, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.ClaimMinIdle, c.opts.BatchSize)
	if err != nil {
		c.logger.Error("claim_stale failed", err, nil)
		return
	}
	if len(claimed) > 0 {
		c.logger.Info("claimed stale entries", logging.LogFields{"count": len(claimed)})
	}
	for _, entry := range claimed {
		if ctx.Err() != nil {
			return
		}
		c.processEntry(ctx, entry)
	}
}

func (c *Consumer) processEntry(ctx context.Context, entry stream.Entry) {
	event := entry.Event

	ctx, span := c.tracer.Start(ctx, "consume "+event.Type)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
		attribute.String("stream.name", c.opts.Stream),
		attribute.String("stream.delivery_id", entry.DeliveryID),
		attribute.String("consumer.group", c.opts.Group),
	)

	entryLog := c.logger.With(logging.LogFields{
		"delivery_id": entry.DeliveryID,
		"event_id":    event.ID,
		"event_type":  event.Type,
	})

	// Targeted events addressed to another subscriber are not ours.
	if event.Target != "" && event.Target != c.opts.Group {
		c.ack(ctx, entry.DeliveryID, entryLog)
		return
	}

	seen, err := c.dedup.Seen(ctx, c.opts.Group, entry.DeliveryID)
	if err != nil {
		// Leave the entry pending; redelivery will retry the lookup.
		entryLog.Error("dedup lookup failed", err, nil)
		return
	}
	if seen {
		// Replay of an already-processed delivery id: acknowledge with
		// zero additional side effects.
		entryLog.Debug("skipping already-processed entry", nil)
		c.metrics.Processed.WithLabelValues(c.opts.Stream, c.opts.Group, ResultSkipped).Inc()
		c.ack(ctx, entry.DeliveryID, entryLog)
		return
	}

	if c.deadLetterIfExhausted(ctx, entry, entryLog) {
		return
	}

	handlers := c.registry.Handlers(event.Type)
	if len(handlers) == 0 {
		entryLog.Debug("no handlers registered for type", nil)
		c.ack(ctx, entry.DeliveryID, entryLog)
		return
	}

	start := time.Now()
	class, handlerErr := c.invokeAll(ctx, handlers, event)
	c.metrics.HandlerDuration.WithLabelValues(c.opts.Group, event.Type).Observe(time.Since(start).Seconds())

	switch class {
	case errclass.ClassNone:
		c.recordThenAck(ctx, entry, ResultProcessed, entryLog)

	case errclass.ClassPermanent:
		// Redelivering a permanently broken entry forever would starve
		// the group: record a skip marker and acknowledge.
		entryLog.Error("handler failed permanently, entry will not be retried", handlerErr, nil)
		span.RecordError(handlerErr)
		c.recordThenAck(ctx, entry, ResultPermanent, entryLog)

	default:
		entryLog.Warn("handler failed transiently, leaving entry pending", logging.LogFields{
			"error": handlerErr.Error(),
		})
		span.RecordError(handlerErr)
		c.metrics.Processed.WithLabelValues(c.opts.Stream, c.opts.Group, ResultTransient).Inc()
	}
}

// invokeAll runs every registered handler for the event's type. The worst
// classification across handlers decides the entry's fate.
func (c *Consumer) invokeAll(ctx context.Context, handlers []Handler, event envelope.Event) (errclass.Classification, error) {
	class := errclass.ClassNone
	var worstErr error

	for _, handler := range handlers {
		err := c.invoke(ctx, handler, event)
		if err == nil {
			continue
		}
		next := errclass.Worst(class, c.opts.Classifier(err))
		if next != class || worstErr == nil {
			worstErr = err
		}
		class = next
	}
	return class, worstErr
}

// invoke runs one handler, converting panics into transient errors so a
// buggy handler cannot kill the consumer loop.
func (c *Consumer) invoke(ctx context.Context, handler Handler, event envelope.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// recordThenAck writes the dedup marker before acknowledging. If the process
// crashes between the two steps, redelivery finds the marker present and
// skips re-invocation, so handler execution stays at-most-once even though
// delivery is at-least-once.
func (c *Consumer) recordThenAck(ctx context.Context, entry stream.Entry, result string, entryLog logging.ServiceLogger) {
	inserted, err := c.dedup.MarkProcessed(ctx, c.opts.Group, entry.DeliveryID, entry.Event.ID, time.Now().UTC())
	if err != nil {
		// Without the marker an ack would lose the idempotency guarantee.
		// Leave the entry pending; the handlers are expected to tolerate
		// the resulting at-least-once execution of this one entry.
		entryLog.Error("recording processed marker failed, entry left pending", err, nil)
		return
	}
	if !inserted {
		// Another instance of this group raced us on a redelivered entry
		// and won; the constraint kept the side effects single.
		entryLog.Debug("entry concurrently recorded by another consumer", nil)
	}
	c.metrics.Processed.WithLabelValues(c.opts.Stream, c.opts.Group, result).Inc()
	c.ack(ctx, entry.DeliveryID, entryLog)
}

// deadLetterIfExhausted moves entries whose delivery count exceeded
// MaxDeliveries to the dead-letter stream. Reports true when the entry was
// consumed by this path.
func (c *Consumer) deadLetterIfExhausted(ctx context.Context, entry stream.Entry, entryLog logging.ServiceLogger) bool {
	if c.opts.MaxDeliveries <= 0 {
		return false
	}
	counter, ok := c.log.(stream.DeliveryCounter)
	if !ok {
		return false
	}

	deliveries, err := counter.DeliveryCount(ctx, c.opts.Stream, c.opts.Group, entry.DeliveryID)
	if err != nil {
		entryLog.Error("delivery count lookup failed", err, nil)
		return false
	}
	if deliveries <= c.opts.MaxDeliveries {
		return false
	}

	dlq := stream.DeadLetterStream(c.opts.Stream)
	if _, err := c.log.Append(ctx, dlq, entry.Event); err != nil {
		entryLog.Error("dead-letter append failed, entry left pending", err, nil)
		return true
	}

	entryLog.Error("entry exceeded max deliveries, moved to dead-letter stream", nil, logging.LogFields{
		"deliveries":  deliveries,
		"dead_letter": dlq,
	})
	c.metrics.Processed.WithLabelValues(c.opts.Stream, c.opts.Group, ResultDeadLettered).Inc()
	c.ack(ctx, entry.DeliveryID, entryLog)
	return true
}

func (c *Consumer) ack(ctx context.Context, deliveryID string, entryLog logging.ServiceLogger) {
	if err := c.log.Ack(ctx, c.opts.Stream, c.opts.Group, deliveryID); err != nil {
		// The pending-list timeout will eventually resurface the entry;
		// the dedup marker keeps the replay side-effect free.
		entryLog.Error("ack failed", err, nil)
	}
}

func (c *Consumer) observePendingDepth(ctx context.Context) {
	depth, err := c.log.PendingCount(ctx, c.opts.Stream, c.opts.Group)
	if err != nil {
		return
	}
	c.metrics.PendingDepth.WithLabelValues(c.opts.Stream, c.opts.Group).Set(float64(depth))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
