package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformkit/eventstream/internal/runtime/config"
	"github.com/platformkit/eventstream/internal/runtime/dedup"
	"github.com/platformkit/eventstream/internal/runtime/envelope"
)

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{StreamBackend: "memory"}
	}
	if cfg.DedupSQLiteFile == "" {
		cfg.DedupSQLiteFile = filepath.Join(t.TempDir(), "dedup.db")
	}

	svc, err := NewService(context.Background(), cfg, nil, ServiceDependencies{
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewService(context.Background(), &config.Config{StreamBackend: "bogus"}, nil, ServiceDependencies{})
	require.Error(t, err)

	var verr *config.ConfigValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestServiceWiresPublisherAndConsumer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	registry := NewRegistry()
	processed := make(chan envelope.Event, 1)
	require.NoError(t, registry.Subscribe("mission.task.completed", func(ctx context.Context, e envelope.Event) error {
		processed <- e
		return nil
	}))

	consumer, err := svc.NewConsumer(registry, ConsumerOptions{
		Stream: "platform:events",
		Group:  "audit",
		Block:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go consumer.Run(runCtx)

	svc.Publisher().Publish(ctx, "platform:events", envelope.New("mission.task.completed", "mission-worker", map[string]any{"mission_id": "m1"}))

	select {
	case e := <-processed:
		assert.Equal(t, "m1", e.Payload["mission_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("published event never reached the consumer")
	}
}

func TestServiceConsumerDefaultsFromConfig(t *testing.T) {
	svc := newTestService(t, &config.Config{
		StreamBackend: "memory",
		ReadBatchSize: 7,
		ReadBlock:     123 * time.Millisecond,
		ClaimInterval: 11 * time.Second,
		ClaimMinIdle:  13 * time.Second,
		MaxDeliveries: 4,
	})

	consumer, err := svc.NewConsumer(nil, ConsumerOptions{Stream: "platform:events", Group: "audit"})
	require.NoError(t, err)

	assert.Equal(t, 7, consumer.opts.BatchSize)
	assert.Equal(t, 123*time.Millisecond, consumer.opts.Block)
	assert.Equal(t, 11*time.Second, consumer.opts.ClaimInterval)
	assert.Equal(t, 13*time.Second, consumer.opts.ClaimMinIdle)
	assert.EqualValues(t, 4, consumer.opts.MaxDeliveries)
}

func TestServiceUsesInjectedDependencies(t *testing.T) {
	store, err := dedup.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	svc, err := NewService(context.Background(), &config.Config{StreamBackend: "memory"}, nil, ServiceDependencies{
		Dedup:      store,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	assert.Same(t, store, svc.Dedup())
}

func TestRunMaintenanceTrimsAndPrunes(t *testing.T) {
	svc := newTestService(t, &config.Config{
		StreamBackend:  "memory",
		DedupRetention: time.Nanosecond,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Publisher().TryPublish(ctx, "platform:events", envelope.New("mission.task.completed", "w", nil))
		require.NoError(t, err)
	}
	_, err := svc.Dedup().MarkProcessed(ctx, "audit", "1", "evt-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err = svc.RunMaintenance(runCtx, "platform:events", 2, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Stream trimmed to the configured length.
	entries, err := svc.Log().ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Dedup marker older than the retention window was pruned.
	seen, err := svc.Dedup().Seen(ctx, "audit", "1")
	require.NoError(t, err)
	assert.False(t, seen)
}
