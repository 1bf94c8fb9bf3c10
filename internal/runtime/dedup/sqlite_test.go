package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMarkProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("first insert wins", func(t *testing.T) {
		inserted, err := store.MarkProcessed(ctx, "audit", "42", "evt-1", time.Now())
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("duplicate delivery id is rejected by the constraint", func(t *testing.T) {
		inserted, err := store.MarkProcessed(ctx, "audit", "42", "evt-other", time.Now())
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("same delivery id under another subscriber is distinct", func(t *testing.T) {
		inserted, err := store.MarkProcessed(ctx, "billing", "42", "evt-1", time.Now())
		require.NoError(t, err)
		assert.True(t, inserted)
	})
}

func TestSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "audit", "7")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.MarkProcessed(ctx, "audit", "7", "evt-7", time.Now())
	require.NoError(t, err)

	seen, err = store.Seen(ctx, "audit", "7")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFindByEventID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// The same application event can be processed under several delivery
	// ids (republish) and several subscribers; the audit index finds all.
	_, err := store.MarkProcessed(ctx, "audit", "1", "evt-x", time.Now())
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "billing", "1", "evt-x", time.Now())
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "audit", "9", "evt-y", time.Now())
	require.NoError(t, err)

	records, err := store.FindByEventID(ctx, "evt-x")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "evt-x", r.EventID)
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-91 * 24 * time.Hour)
	_, err := store.MarkProcessed(ctx, "audit", "1", "evt-old", old)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "audit", "2", "evt-new", time.Now())
	require.NoError(t, err)

	removed, err := store.Prune(ctx, time.Now().Add(-DefaultRetention))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	seen, err := store.Seen(ctx, "audit", "1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, "audit", "2")
	require.NoError(t, err)
	assert.True(t, seen)
}
