// Package mission provides a priority-ordered durable work queue and the
// background worker that drains it. The queue is an independent data
// structure from the stream log; the two only meet when the worker emits
// lifecycle events through the publisher.
package mission

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders missions in the queue. Higher values dequeue first; ties
// are broken by enqueue order.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Status tracks a mission through its lifecycle:
// PENDING → RUNNING → COMPLETED | FAILED, with RETRYING looping back to
// PENDING while retries remain.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusRetrying  Status = "RETRYING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Lifecycle event types emitted around mission execution.
const (
	EventCreated   = "mission.task.created"
	EventStarted   = "mission.task.started"
	EventCompleted = "mission.task.completed"
	EventRetrying  = "mission.task.retrying"
	EventFailed    = "mission.task.failed"
)

// DefaultMaxRetries applies to missions enqueued without an explicit limit.
const DefaultMaxRetries = 3

// Mission is one unit of asynchronous work. Only the worker mutates status,
// timestamps, and retry counters once a mission is enqueued.
type Mission struct {
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Priority   Priority       `json:"priority"`
	Status     Status         `json:"status"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a PENDING mission with a generated id and default retry limit.
func New(payload map[string]any, priority Priority) Mission {
	return Mission{
		ID:         uuid.NewString(),
		Payload:    payload,
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// WithMaxRetries overrides the retry limit and returns the mission.
func (m Mission) WithMaxRetries(n int) Mission {
	m.MaxRetries = n
	return m
}
