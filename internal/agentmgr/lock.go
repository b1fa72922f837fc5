package agentmgr

import (
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/substrate"
)

// LockInfo is the holder/timestamp pair reported on a LOCKED conflict.
type LockInfo struct {
	Holder     string
	AcquiredAt time.Time
}

type lockEntry struct {
	holder     string
	acquiredAt time.Time
	timer      *time.Timer
}

// LockManager enforces at most one writer per session key (spec §4.4.1).
// Locks auto-release on explicit release, client disconnect (the route
// adapter is expected to call Release on request cancellation), session
// eviction, or TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	ttl   time.Duration
}

// DefaultLockTTL bounds how long a lock survives without an explicit
// release or disconnect signal, guarding against a client that never
// releases.
const DefaultLockTTL = 10 * time.Minute

// NewLockManager builds a lock manager with the given TTL; zero disables
// TTL-based expiry (tests only).
func NewLockManager(ttl time.Duration) *LockManager {
	return &LockManager{locks: map[string]*lockEntry{}, ttl: ttl}
}

// Acquire grants an exclusive lock to clientID for sessionKey. A second
// acquirer from a different client fails with LOCKED; the same client
// re-acquiring (or refreshing) succeeds.
func (m *LockManager) Acquire(sessionKey, clientID string) (LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[sessionKey]; ok {
		if existing.holder != clientID {
			return LockInfo{Holder: existing.holder, AcquiredAt: existing.acquiredAt}, substrate.New(substrate.CodeLocked, "session %s is locked by %s", sessionKey, existing.holder)
		}
		if existing.timer != nil {
			existing.timer.Stop()
		}
	}

	entry := &lockEntry{holder: clientID, acquiredAt: time.Now()}
	if m.ttl > 0 {
		entry.timer = time.AfterFunc(m.ttl, func() { m.Release(sessionKey, clientID) })
	}
	m.locks[sessionKey] = entry
	return LockInfo{Holder: clientID, AcquiredAt: entry.acquiredAt}, nil
}

// Release releases the lock on sessionKey if held by clientID. Releasing a
// lock not held by clientID (or not held at all) is a no-op, matching the
// idempotent-lifecycle requirement.
func (m *LockManager) Release(sessionKey, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[sessionKey]
	if !ok || entry.holder != clientID {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(m.locks, sessionKey)
}

// IsLocked reports whether sessionKey is locked, optionally scoped to
// "locked by someone other than clientID".
func (m *LockManager) IsLocked(sessionKey string, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[sessionKey]
	if !ok {
		return false
	}
	if clientID == "" {
		return true
	}
	return entry.holder != clientID
}

// Info returns the current lock holder for sessionKey, if any.
func (m *LockManager) Info(sessionKey string) (LockInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[sessionKey]
	if !ok {
		return LockInfo{}, false
	}
	return LockInfo{Holder: entry.holder, AcquiredAt: entry.acquiredAt}, true
}

// Cleanup releases all locks for the given evicted session keys,
// regardless of holder — called from CheckSessionHealth.
func (m *LockManager) Cleanup(evictedKeys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range evictedKeys {
		if entry, ok := m.locks[key]; ok {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(m.locks, key)
		}
	}
}
