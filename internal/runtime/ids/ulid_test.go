package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEventID(t *testing.T) {
	t.Run("has ULID length", func(t *testing.T) {
		assert.Len(t, NewEventID(), 26)
	})

	t.Run("is unique per call", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := NewEventID()
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	})

	t.Run("is monotonically sortable", func(t *testing.T) {
		prev := NewEventID()
		for i := 0; i < 100; i++ {
			next := NewEventID()
			assert.Less(t, prev, next)
			prev = next
		}
	})
}
