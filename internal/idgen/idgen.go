// Package idgen issues monotonic 128-bit time-ordered IDs (ULID semantics)
// for sessions, trace spans, manifests, schedules, runs, and envelopes.
package idgen

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Service wraps a per-process monotonic ULID entropy source behind a mutex
// so concurrent callers still observe strictly increasing IDs within the
// same millisecond.
type Service struct {
	mu      sync.Mutex
	entropy io.Reader
}

// New builds an ID service seeded from seed (typically crypto/rand.Reader).
// A nil seed defaults to crypto/rand.Reader.
func New(seed io.Reader) *Service {
	if seed == nil {
		seed = rand.Reader
	}
	return &Service{entropy: ulid.Monotonic(seed, 0)}
}

// New issues a new ULID for the current instant.
func (s *Service) New() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
}

// NewString issues a new ULID and renders it as its canonical string form.
func (s *Service) NewString() string {
	return s.New().String()
}

// Parse validates and parses a ULID string, surfacing the same error the
// underlying library returns.
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}
