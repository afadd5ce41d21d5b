package utils

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewReference returns a sortable, unique transaction reference such as
// "WDR-01J9Z4V6K3M8Q2R7T5W1X0Y9ZA".
func NewReference(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "-" + id.String()
}

// NewReferralCode returns an 8 character invite code.
func NewReferralCode() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	s := id.String()
	// tail = random part, head = timestamp (same for users created together)
	return strings.ToUpper(s[len(s)-8:])
}
