package mission

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platformkit/eventstream/internal/runtime"
	"github.com/platformkit/eventstream/internal/runtime/errs"
	"github.com/platformkit/eventstream/internal/runtime/logging"
)

// DefaultPollInterval is how long an idle worker waits before checking the
// queue again.
const DefaultPollInterval = time.Second

// ExecFunc executes one mission. A nil return completes the mission; any
// error counts as a failed attempt and consumes one retry.
type ExecFunc func(ctx context.Context, m Mission) error

// WorkerOptions configures a Worker. Store and Exec are required.
type WorkerOptions struct {
	Store     Store
	Exec      ExecFunc
	Publisher *runtime.Publisher // nil disables lifecycle events
	Stream    string             // defaults to DefaultStream
	Source    string             // event source, defaults to "mission-worker"
	Logger    logging.ServiceLogger
	Metrics   *runtime.Metrics

	// PollInterval is the sleep between dequeue attempts when the queue is
	// empty or the store errors.
	PollInterval time.Duration
}

// Worker drains the mission queue: dequeue, execute, then settle the mission
// as completed, requeued, or terminally failed. Lifecycle events go through
// the publisher and inherit its non-blocking contract, so a publish failure
// never aborts or retries the mission itself.
//
// Run any number of workers against the same store; the transactional
// dequeue guarantees each mission attempt has exactly one owner.
type Worker struct {
	store     Store
	exec      ExecFunc
	publisher *runtime.Publisher
	stream    string
	source    string
	logger    logging.ServiceLogger
	metrics   *runtime.Metrics
	tracer    trace.Tracer
	poll      time.Duration
}

// NewWorker creates a Worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Store == nil {
		return nil, errs.ErrStoreRequired
	}
	if opts.Exec == nil {
		return nil, errs.ErrExecFuncRequired
	}
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Source == "" {
		opts.Source = "mission-worker"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = runtime.NopMetrics()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Worker{
		store:     opts.Store,
		exec:      opts.Exec,
		publisher: opts.Publisher,
		stream:    opts.Stream,
		source:    opts.Source,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("eventstream-mission-worker"),
		poll:      opts.PollInterval,
	}, nil
}

// Run drains the queue until ctx is cancelled. It returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("mission worker started", logging.LogFields{
		"stream": w.stream,
	})

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("mission worker stopped", nil)
			return err
		}

		m, ok, err := w.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue failed", err, nil)
			w.sleep(ctx)
			continue
		}
		if !ok {
			w.sleep(ctx)
			continue
		}

		w.runOne(ctx, m)
	}
}

// RunOnce dequeues and executes at most one mission. It reports whether a
// mission was found, for callers that drive the loop themselves.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	m, ok, err := w.store.Dequeue(ctx)
	if err != nil || !ok {
		return false, err
	}
	w.runOne(ctx, m)
	return true, nil
}

func (w *Worker) runOne(ctx context.Context, m Mission) {
	ctx, span := w.tracer.Start(ctx, "mission "+m.ID)
	defer span.End()
	span.SetAttributes(
		attribute.String("mission.id", m.ID),
		attribute.String("mission.priority", m.Priority.String()),
		attribute.Int("mission.retry_count", m.RetryCount),
	)

	w.emit(ctx, EventStarted, m)
	w.metrics.Missions.WithLabelValues(string(StatusRunning)).Inc()

	execErr := w.execute(ctx, m)
	if execErr == nil {
		done, err := w.store.Complete(ctx, m.ID)
		if err != nil {
			w.logger.Error("failed to mark mission completed", err, logging.LogFields{
				"mission_id": m.ID,
			})
			return
		}
		w.metrics.Missions.WithLabelValues(string(StatusCompleted)).Inc()
		w.logger.Info("mission completed", logging.LogFields{
			"mission_id": m.ID,
		})
		w.emit(ctx, EventCompleted, done)
		return
	}

	updated, err := w.store.Requeue(ctx, m.ID, execErr.Error())
	if err != nil {
		w.logger.Error("failed to requeue mission", err, logging.LogFields{
			"mission_id": m.ID,
		})
		return
	}

	if updated.Status == StatusFailed {
		w.metrics.Missions.WithLabelValues(string(StatusFailed)).Inc()
		w.logger.Error("mission failed permanently", execErr, logging.LogFields{
			"mission_id":  m.ID,
			"retry_count": updated.RetryCount,
			"max_retries": updated.MaxRetries,
		})
		w.emit(ctx, EventFailed, updated)
		return
	}

	w.metrics.Missions.WithLabelValues(string(StatusRetrying)).Inc()
	w.logger.Warn("mission attempt failed, requeued", logging.LogFields{
		"mission_id":  m.ID,
		"retry_count": updated.RetryCount,
		"max_retries": updated.MaxRetries,
		"error":       execErr.Error(),
	})
	retrying := updated
	retrying.Status = StatusRetrying
	w.emit(ctx, EventRetrying, retrying)
}

// execute runs the work function, converting a panic into a failed attempt
// so one bad mission cannot take the worker down.
func (w *Worker) execute(ctx context.Context, m Mission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mission panicked: %v", r)
		}
	}()
	return w.exec(ctx, m)
}

func (w *Worker) emit(ctx context.Context, eventType string, m Mission) {
	if w.publisher == nil {
		return
	}
	w.publisher.Publish(ctx, w.stream, lifecycleEvent(eventType, w.source, m))
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
