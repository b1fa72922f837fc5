package agentmgr

import (
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/pkg/protocol"
)

// Session is the Agent Manager's in-memory record for one conversation
// (spec §3 Session). Fields are mutated only through Manager methods, per
// the single-writer-multiple-reader discipline spec §5 requires.
type Session struct {
	mu sync.Mutex

	SessionKey        string
	RuntimeSessionID  string
	Cwd               string
	PermissionMode    runtime.PermissionMode
	Model             string
	HasStarted        bool
	LastActivity      time.Time
	SystemPromptSuffix string

	// activeCancel cancels the in-flight query, if any; nil when idle.
	activeCancel func()

	pending map[string]*PendingInteraction

	eventQueue []protocol.Event
	notify     *notifier
}

// PendingInteraction is either an approval (resolves to a bool) or a
// question (resolves to a map of field id -> answer). Both kinds are resolved
// through resolvePending, which rejects a result whose kind differs from Kind.
type PendingInteraction struct {
	Kind   PendingKind
	Timer  *time.Timer
	Result chan PendingResult
}

// PendingKind distinguishes an approval pending interaction from a question.
type PendingKind string

const (
	PendingApproval PendingKind = "approval"
	PendingQuestion PendingKind = "question"
)

// PendingResult carries whichever resolution matches the PendingInteraction's
// Kind.
type PendingResult struct {
	Approved bool
	Answers  map[string]string
}

func newSession(key string, mode runtime.PermissionMode, cwd string) *Session {
	now := time.Now()
	return &Session{
		SessionKey:       key,
		RuntimeSessionID: key,
		Cwd:              cwd,
		PermissionMode:   mode,
		LastActivity:     now,
		pending:          map[string]*PendingInteraction{},
		notify:           newNotifier(),
	}
}

// enqueueEvent pushes an event for sendMessage's async-merge loop to drain,
// then wakes a waiting loop if one exists.
func (s *Session) enqueueEvent(e protocol.Event) {
	s.mu.Lock()
	s.eventQueue = append(s.eventQueue, e)
	s.mu.Unlock()
	s.notify.Notify()
}

// drainEvents pops every currently queued event.
func (s *Session) drainEvents() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.eventQueue) == 0 {
		return nil
	}
	drained := s.eventQueue
	s.eventQueue = nil
	return drained
}

// idleDuration returns how long the session has sat without activity.
func (s *Session) idleDuration(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.LastActivity)
}

// touch updates LastActivity to now.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.LastActivity = now
	s.mu.Unlock()
}

// setActiveCancel records (or clears, with nil) the cancel function for the
// session's in-flight query.
func (s *Session) setActiveCancel(cancel func()) {
	s.mu.Lock()
	s.activeCancel = cancel
	s.mu.Unlock()
}

// cancelActive interrupts the in-flight query, if any.
func (s *Session) cancelActive() {
	s.mu.Lock()
	cancel := s.activeCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// registerPending records a new pending interaction keyed by tool-call ID.
func (s *Session) registerPending(toolCallID string, kind PendingKind, timer *time.Timer) *PendingInteraction {
	pi := &PendingInteraction{Kind: kind, Timer: timer, Result: make(chan PendingResult, 1)}
	s.mu.Lock()
	s.pending[toolCallID] = pi
	s.mu.Unlock()
	return pi
}

// resolvePending resolves and removes the pending interaction for
// toolCallID if it exists and matches kind. Returns false otherwise.
func (s *Session) resolvePending(toolCallID string, kind PendingKind, result PendingResult) bool {
	s.mu.Lock()
	pi, ok := s.pending[toolCallID]
	if ok {
		if pi.Kind != kind {
			s.mu.Unlock()
			return false
		}
		delete(s.pending, toolCallID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if pi.Timer != nil {
		pi.Timer.Stop()
	}
	select {
	case pi.Result <- result:
	default:
	}
	return true
}

// clearAllPending cancels every pending interaction's timer and drops them,
// used on session eviction.
func (s *Session) clearAllPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = map[string]*PendingInteraction{}
	s.mu.Unlock()
	for _, pi := range pending {
		if pi.Timer != nil {
			pi.Timer.Stop()
		}
	}
}

// snapshot returns a protocol.SessionDetail view of the session.
func (s *Session) snapshot() protocol.SessionDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.SessionDetail{
		ID:               s.SessionKey,
		RuntimeSessionID: s.RuntimeSessionID,
		Cwd:              s.Cwd,
		PermissionMode:   string(s.PermissionMode),
		Model:            s.Model,
		HasStarted:       s.HasStarted,
		LastActivity:     s.LastActivity.UnixMilli(),
	}
}
