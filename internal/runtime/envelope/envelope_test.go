package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	evt := New("mission.task.completed", "mission-service", map[string]any{"mission_id": "m1"})

	assert.Len(t, evt.ID, 26)
	assert.Equal(t, "mission.task.completed", evt.Type)
	assert.Equal(t, "mission-service", evt.Source)
	assert.Empty(t, evt.Target)
	assert.WithinDuration(t, time.Now().UTC(), evt.Timestamp, time.Second)
	assert.Equal(t, DefaultSchemaVersion, evt.Meta.SchemaVersion)
	assert.Equal(t, "mission-service", evt.Meta.Producer)
	assert.Equal(t, "mission-service", evt.Meta.SourceModule)
	assert.NoError(t, evt.Validate())
}

func TestNew_FreshIDPerConstruction(t *testing.T) {
	a := New("policy.rule.evaluated", "policy", nil)
	b := New("policy.rule.evaluated", "policy", nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWithHelpers(t *testing.T) {
	evt := New("mission.task.started", "worker", nil).
		WithTarget("audit").
		WithCorrelationID("corr-1").
		WithMissionID("m1").
		WithTaskID("t1").
		WithTenantID("acme")

	assert.Equal(t, "audit", evt.Target)
	assert.Equal(t, "corr-1", evt.Meta.CorrelationID)
	assert.Equal(t, "m1", evt.Meta.MissionID)
	assert.Equal(t, "t1", evt.Meta.TaskID)
	assert.Equal(t, "acme", evt.Meta.TenantID)
}

func TestWithMeta_ZeroSchemaVersionDefaults(t *testing.T) {
	evt := New("fleet.unit.registered", "fleet", nil).WithMeta(Meta{
		Producer:     "fleet",
		SourceModule: "fleet-coordinator",
	})
	assert.Equal(t, DefaultSchemaVersion, evt.Meta.SchemaVersion)
	assert.Equal(t, "fleet-coordinator", evt.Meta.SourceModule)
}

func TestValidate(t *testing.T) {
	valid := New("mission.task.completed", "worker", nil)

	tests := []struct {
		name    string
		mutate  func(Event) Event
		wantErr string
	}{
		{"valid event", func(e Event) Event { return e }, ""},
		{"missing id", func(e Event) Event { e.ID = ""; return e }, "id is required"},
		{"missing source", func(e Event) Event { e.Source = ""; return e }, "source is required"},
		{"zero timestamp", func(e Event) Event { e.Timestamp = time.Time{}; return e }, "timestamp"},
		{"zero schema version", func(e Event) Event { e.Meta.SchemaVersion = 0; return e }, "schema_version"},
		{"missing producer", func(e Event) Event { e.Meta.Producer = ""; return e }, "producer"},
		{"missing source module", func(e Event) Event { e.Meta.SourceModule = ""; return e }, "source_module"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateType(t *testing.T) {
	tests := []struct {
		eventType string
		ok        bool
	}{
		{"mission.task.completed", true},
		{"course.generation.completed", true},
		{"policy.rule_set.evaluated", true},
		{"fleet.unit-group.moved", true},
		{"", false},
		{"mission.completed", false},
		{"mission.task.sub.completed", false},
		{"Mission.Task.Completed", false},
		{"mission..completed", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			err := ValidateType(tt.eventType)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	evt := New("mission.task.completed", "worker", map[string]any{
		"mission_id": "m1",
		"attempts":   float64(2),
	}).WithTarget("audit").WithCorrelationID("corr-9").WithTenantID("acme")

	data, err := evt.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	// Every field, including meta, must survive the round trip unchanged.
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, evt.Source, decoded.Source)
	assert.Equal(t, evt.Target, decoded.Target)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, evt.Payload, decoded.Payload)
	assert.Equal(t, evt.Meta, decoded.Meta)
}

func TestMarshal_OmitsAbsentOptionalFields(t *testing.T) {
	evt := New("mission.task.created", "queue", nil)

	data, err := evt.Marshal()
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "target")
	assert.NotContains(t, s, "correlation_id")
	assert.NotContains(t, s, "tenant_id")
}

func TestClone(t *testing.T) {
	evt := New("dna.genome.mutated", "dna", map[string]any{"genome_id": "g1"})
	cloned := evt.Clone()

	cloned.Payload["genome_id"] = "g2"
	assert.Equal(t, "g1", evt.Payload["genome_id"])
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}
