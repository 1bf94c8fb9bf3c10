package sqlite

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformkit/eventstream/internal/runtime/envelope"
	"github.com/platformkit/eventstream/stream"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := New(Config{FilePath: ":memory:", PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func testEvent(payload map[string]any) envelope.Event {
	return envelope.New("course.generation.completed", "course-service", payload)
}

func TestAppendReturnsIncreasingDeliveryIDs(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 4; i++ {
		id, err := log.Append(ctx, "platform:events", testEvent(nil))
		require.NoError(t, err)

		n, err := strconv.ParseInt(id, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestReadGroupDeliversAndRoundTrips(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	event := testEvent(map[string]any{"course_id": "c-7"}).
		WithTarget("audit").
		WithCorrelationID("corr-1")
	id, err := log.Append(ctx, "platform:events", event)
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, id, got.DeliveryID)
	assert.Equal(t, event.ID, got.Event.ID)
	assert.Equal(t, event.Type, got.Event.Type)
	assert.Equal(t, "audit", got.Event.Target)
	assert.Equal(t, "corr-1", got.Event.Meta.CorrelationID)
	assert.Equal(t, "c-7", got.Event.Payload["course_id"])
}

func TestRedeliveryBeforeNewEntries(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	firstID, err := log.Append(ctx, "platform:events", testEvent(map[string]any{"n": 1}))
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A second append while the first entry is still pending.
	secondID, err := log.Append(ctx, "platform:events", testEvent(map[string]any{"n": 2}))
	require.NoError(t, err)

	// The pending entry comes back first, with its original delivery id,
	// ahead of the new one.
	entries, err = log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, firstID, entries[0].DeliveryID)
	assert.Equal(t, secondID, entries[1].DeliveryID)
}

func TestAckStopsRedelivery(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "platform:events", testEvent(nil))
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, log.Ack(ctx, "platform:events", "audit", entries[0].DeliveryID))
	// Twice is fine.
	require.NoError(t, log.Ack(ctx, "platform:events", "audit", entries[0].DeliveryID))

	entries, err = log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	count, err := log.PendingCount(ctx, "platform:events", "audit")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGroupsAreIndependent(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "platform:events", testEvent(nil))
	require.NoError(t, err)

	audit, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.NoError(t, log.Ack(ctx, "platform:events", "audit", audit[0].DeliveryID))

	// The notify group still gets its own delivery of the same entry.
	notify, err := log.ReadGroup(ctx, "platform:events", "notify", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notify, 1)
	assert.Equal(t, audit[0].DeliveryID, notify[0].DeliveryID)
}

func TestClaimStale(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, "platform:events", testEvent(nil))
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, "platform:events", "audit", "dead", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	claimed, err := log.ClaimStale(ctx, "platform:events", "audit", "alive", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = log.ClaimStale(ctx, "platform:events", "audit", "alive", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, entries[0].DeliveryID, claimed[0].DeliveryID)

	// Delivery count accumulated across both owners.
	deliveries, err := log.DeliveryCount(ctx, "platform:events", "audit", claimed[0].DeliveryID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deliveries)

	mine, err := log.ReadGroup(ctx, "platform:events", "audit", "alive", 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := log.ReadGroup(ctx, "platform:events", "audit", "dead", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestBlockingReadWakesOnAppend(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	got := make(chan []stream.Entry, 1)
	go func() {
		entries, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 2*time.Second)
		assert.NoError(t, err)
		got <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := log.Append(ctx, "platform:events", testEvent(nil))
	require.NoError(t, err)

	select {
	case entries := <-got:
		require.Len(t, entries, 1)
	case <-time.After(time.Second):
		t.Fatal("blocked reader did not pick up the append")
	}
}

func TestTrim(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, "platform:events", testEvent(map[string]any{"n": i}))
		require.NoError(t, err)
	}

	dropped, err := log.Trim(ctx, "platform:events", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, dropped)

	entries, err := log.ReadGroup(ctx, "platform:events", "audit", "c1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// maxLen <= 0 empties the stream.
	dropped, err = log.Trim(ctx, "platform:events", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, dropped)
}

func TestClosedLogReportsUnavailable(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Close())

	_, err := log.Append(context.Background(), "platform:events", testEvent(nil))
	assert.ErrorIs(t, err, stream.ErrStoreUnavailable)
}

func TestBuildRegistered(t *testing.T) {
	assert.True(t, stream.Has(BackendName))
	assert.True(t, stream.GetCapabilities(BackendName).Durable)
}
