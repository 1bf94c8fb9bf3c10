// Package envelope defines the immutable wire format shared by every producer
// and consumer on the platform event stream. The JSON shape is a bit-exact
// contract between services: field additions must be backward compatible and
// semantic changes must bump Meta.SchemaVersion.
package envelope

import (
	"fmt"
	"strings"
	"time"

	"github.com/platformkit/eventstream/internal/runtime/ids"
	"github.com/platformkit/eventstream/internal/runtime/jsoncodec"
)

// DefaultSchemaVersion is assigned to events constructed without an explicit
// schema version.
const DefaultSchemaVersion = 1

// Event represents one immutable fact that happened. It is created once by a
// producer at publish time and never mutated afterwards.
type Event struct {
	// ID is a globally unique, time-sortable identifier generated at
	// construction. It is a secondary key only: a retried publish generates
	// a fresh ID, so it must never be used for idempotent consumption.
	ID string `json:"id"`

	// Type is the routing key, namespaced as <domain>.<resource>.<action>
	// with a lowercase past-tense action, e.g. "mission.task.completed".
	Type string `json:"type"`

	// Source identifies the producing module.
	Source string `json:"source"`

	// Target optionally names a specific subscriber. Empty means broadcast
	// to every subscribed consumer group.
	Target string `json:"target,omitempty"`

	// Timestamp is the producer-assigned creation time. It is informative
	// only; the stream log's own sequence is authoritative for ordering.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries business data. It must reference entities by opaque
	// id rather than embed full objects, and must exclude secrets and PII.
	Payload map[string]any `json:"payload,omitempty"`

	Meta Meta `json:"meta"`
}

// Meta carries envelope metadata common to every event type.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	Producer      string `json:"producer"`
	SourceModule  string `json:"source_module"`

	CorrelationID string `json:"correlation_id,omitempty"`
	MissionID     string `json:"mission_id,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
}

// New creates an Event with a generated ULID id, the current UTC timestamp,
// and default metadata naming source as both producer and source module.
func New(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        ids.NewEventID(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Meta: Meta{
			SchemaVersion: DefaultSchemaVersion,
			Producer:      source,
			SourceModule:  source,
		},
	}
}

// WithTarget addresses the event to a single subscriber and returns the event.
func (e Event) WithTarget(target string) Event {
	e.Target = target
	return e
}

// WithMeta replaces the metadata block and returns the event. A zero schema
// version falls back to DefaultSchemaVersion.
func (e Event) WithMeta(meta Meta) Event {
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = DefaultSchemaVersion
	}
	e.Meta = meta
	return e
}

// WithCorrelationID sets meta.correlation_id and returns the event.
func (e Event) WithCorrelationID(id string) Event {
	e.Meta.CorrelationID = id
	return e
}

// WithMissionID sets meta.mission_id and returns the event.
func (e Event) WithMissionID(id string) Event {
	e.Meta.MissionID = id
	return e
}

// WithTaskID sets meta.task_id and returns the event.
func (e Event) WithTaskID(id string) Event {
	e.Meta.TaskID = id
	return e
}

// WithTenantID sets meta.tenant_id and returns the event.
func (e Event) WithTenantID(id string) Event {
	e.Meta.TenantID = id
	return e
}

// Validate checks the required envelope fields and the event type format.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if err := ValidateType(e.Type); err != nil {
		return err
	}
	if e.Source == "" {
		return fmt.Errorf("event source is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	if e.Meta.SchemaVersion < 1 {
		return fmt.Errorf("meta.schema_version must be >= 1, got %d", e.Meta.SchemaVersion)
	}
	if e.Meta.Producer == "" {
		return fmt.Errorf("meta.producer is required")
	}
	if e.Meta.SourceModule == "" {
		return fmt.Errorf("meta.source_module is required")
	}
	return nil
}

// ValidateType enforces the <domain>.<resource>.<action> naming convention:
// exactly three non-empty lowercase segments.
func ValidateType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	segments := strings.Split(eventType, ".")
	if len(segments) != 3 {
		return fmt.Errorf("event type %q must have the form <domain>.<resource>.<action>", eventType)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("event type %q has an empty segment", eventType)
		}
		for _, r := range seg {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
				return fmt.Errorf("event type %q must be lowercase", eventType)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the event. Payload values are copied at the
// top level; nested values are assumed immutable once published.
func (e Event) Clone() Event {
	cloned := e
	if e.Payload != nil {
		cloned.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cloned.Payload[k] = v
		}
	}
	return cloned
}

// Marshal serializes the event into its canonical JSON wire shape.
func (e Event) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal parses the canonical JSON wire shape.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
