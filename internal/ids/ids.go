package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewUserID returns a lexicographically sortable identifier for user rows.
func NewUserID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// NewRequestID returns a random identifier used to correlate logs of one request.
func NewRequestID() string {
	return uuid.NewString()
}

// NewTokenID returns the jti claim value of an access token.
func NewTokenID() string {
	return uuid.NewString()
}
