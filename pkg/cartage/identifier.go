package cartage

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

// IDGenerator returns a new identifier on every call.
type IDGenerator func() string

// NewCartIDGenerator returns ULIDs: a millisecond timestamp followed by
// monotonic entropy, Crockford base32 encoded.
func NewCartIDGenerator() IDGenerator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)

	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}

// NewLineIDGenerator returns random UUIDs.
func NewLineIDGenerator() IDGenerator {
	return func() string {
		return uuid.NewString()
	}
}
