// Package ids mints the identifiers larkflow stamps on events: trace IDs
// seeded by the dispatch middleware and CloudEvent IDs for forwarded events
// that arrived without a platform event_id.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single locked monotonic source keeps IDs strictly increasing across
// goroutines, so forwarded events sort in arrival order even when several
// land in the same millisecond.
var source = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	source.Lock()
	defer source.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), source.entropy).String()
}
