package ids

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// entropy is shared by every caller; LockedMonotonicReader serialises access
// and keeps ids generated within the same millisecond strictly increasing.
var entropy = &ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.Reader, 0),
}

// NewEventID returns a time-sortable ULID encoded as a 26-character string.
// A fresh id is generated on every construction, so event ids are unstable
// across redelivery attempts and must never be used as idempotency keys.
func NewEventID() string {
	return ulid.MustNew(ulid.Now(), entropy).String()
}
