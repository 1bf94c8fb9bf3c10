package eventstream

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/platformkit/eventstream/stream/memory"
)

func TestServiceExports(t *testing.T) {
	cfg := &Config{
		StreamBackend:   "memory",
		DedupSQLiteFile: filepath.Join(t.TempDir(), "dedup.db"),
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	svc, err := NewService(context.Background(), cfg, nil, ServiceDependencies{
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	defer svc.Close()

	if svc.Publisher() == nil {
		t.Fatal("expected publisher handle")
	}
}

func TestEventExports(t *testing.T) {
	event := NewEvent("mission.task.completed", "mission-worker", map[string]any{"mission_id": "m1"})
	if event.ID == "" {
		t.Fatal("expected generated event id")
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	data, err := Marshal(event)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	var decoded Event
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if decoded.ID != event.ID {
		t.Fatalf("round trip changed id: %q != %q", decoded.ID, event.ID)
	}
}

func TestClassificationExports(t *testing.T) {
	perm := Permanent("schema mismatch", errors.New("boom"))
	if !IsPermanent(perm) {
		t.Fatal("expected permanent classification")
	}
	if Classify(perm) != ClassPermanent {
		t.Fatalf("expected %v, got %v", ClassPermanent, Classify(perm))
	}
	if Classify(errors.New("boom")) != ClassTransient {
		t.Fatal("expected unknown errors to classify as transient")
	}
	if Classify(nil) != ClassNone {
		t.Fatal("expected nil to classify as none")
	}
}

func TestStreamExports(t *testing.T) {
	if !DefaultStreamRegistry.Has("memory") {
		t.Fatal("expected memory backend registered")
	}
	if got := DeadLetterStream("platform:events"); got != "platform:events:dlq" {
		t.Fatalf("unexpected dead-letter stream name: %q", got)
	}
}
