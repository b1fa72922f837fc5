// Package agentmgr is the Agent Manager: the only component that invokes
// the external LLM runtime. It owns live sessions, the session lock, the
// tool-approval callback, MCP injection, and the streaming event mapper.
package agentmgr

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/internal/substrate"
	"github.com/dorkos/dorkos/pkg/protocol"
)

// IdleTimeout is the 30 min session idle cutoff from spec §3, §5.
const IdleTimeout = 30 * time.Minute

// resumeFailureSubstrings classifies runtime errors that indicate the
// resumed session id is stale on the runtime side — on a match the manager
// clears hasStarted and retries once as a fresh session (spec §4.4.5).
var resumeFailureSubstrings = []string{
	"no conversation found",
	"session not found",
	"invalid session id",
}

// MCPFactory builds the MCP server map entry passed to the runtime for one
// query. Returning nil means no MCP servers are attached (e.g. the MCP Tool
// Registry hasn't been wired up).
type MCPFactory func() map[string]any

// Config configures a Manager.
type Config struct {
	Client        runtime.Client
	Boundary      *boundary.Guard
	IDs           *idgen.Service
	MaxSessions   int
	DefaultCwd    string
	ProductName   string
	ProductVersion string
	Port          int
	GitStatus     GitStatusCollector
	Identity      IdentityReader
	MCPFactory    MCPFactory
	LockTTL       time.Duration
}

// Manager is the Agent Manager.
type Manager struct {
	cfg  Config
	locks *LockManager

	mu           sync.RWMutex
	sessions     map[string]*Session
	reverseIndex map[string]string // runtimeSessionID -> sessionKey

	modelsMu      sync.Mutex
	modelsCache   []runtime.ModelDescriptor
	modelsFetching bool
}

// New builds an Agent Manager.
func New(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	ttl := cfg.LockTTL
	if ttl == 0 {
		ttl = DefaultLockTTL
	}
	return &Manager{
		cfg:          cfg,
		locks:        NewLockManager(ttl),
		sessions:     map[string]*Session{},
		reverseIndex: map[string]string{},
	}
}

// EnsureSessionOptions configures session creation.
type EnsureSessionOptions struct {
	PermissionMode runtime.PermissionMode
	Cwd            string
	HasStarted     bool
}

// EnsureSession creates a session record if none exists; idempotent.
// Fails with SESSION_LIMIT if creation would exceed MaxSessions.
func (m *Manager) EnsureSession(sessionKey string, opts EnsureSessionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionKey]; ok {
		return nil
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return substrate.New(substrate.CodeSessionLimit, "session limit %d reached", m.cfg.MaxSessions)
	}

	mode := opts.PermissionMode
	if mode == "" {
		mode = runtime.PermissionDefault
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = m.cfg.DefaultCwd
	}

	s := newSession(sessionKey, mode, cwd)
	s.HasStarted = opts.HasStarted
	m.sessions[sessionKey] = s
	m.reverseIndex[s.RuntimeSessionID] = sessionKey
	return nil
}

// SendMessageOptions configures a single sendMessage call.
type SendMessageOptions struct {
	PermissionMode     runtime.PermissionMode
	Cwd                string
	SystemPromptAppend string
}

// SendMessage auto-creates the session if missing, validates the effective
// cwd against the boundary, and streams StreamEvents from the runtime,
// merging the runtime's async iterator with the session's injected event
// queue via the single-waiter notify primitive (spec §4.4, §9).
func (m *Manager) SendMessage(ctx context.Context, sessionKey, content string, opts SendMessageOptions, sink func(protocol.Event)) error {
	if err := m.EnsureSession(sessionKey, EnsureSessionOptions{PermissionMode: opts.PermissionMode, Cwd: opts.Cwd}); err != nil {
		return err
	}

	s := m.get(sessionKey)
	if s == nil {
		return substrate.New(substrate.CodeInternal, "session %s vanished after EnsureSession", sessionKey)
	}

	effectiveCwd := opts.Cwd
	if effectiveCwd == "" {
		effectiveCwd = s.Cwd
	}
	if effectiveCwd == "" {
		effectiveCwd = m.cfg.DefaultCwd
	}

	if m.cfg.Boundary != nil {
		resolved, err := m.cfg.Boundary.Validate("", effectiveCwd)
		if err != nil {
			sink(protocol.Event{Type: protocol.EventError, ErrorCode: string(substrate.CodeBoundaryViolation), Path: effectiveCwd})
			return err
		}
		effectiveCwd = resolved
	}

	s.mu.Lock()
	if opts.PermissionMode != "" {
		s.PermissionMode = opts.PermissionMode
	}
	s.Cwd = effectiveCwd
	s.mu.Unlock()
	s.touch(time.Now())

	return m.runQuery(ctx, s, content, opts, sink, false)
}

func (m *Manager) runQuery(ctx context.Context, s *Session, content string, opts SendMessageOptions, sink func(protocol.Event), isResumeRetry bool) error {
	s.mu.Lock()
	cwd, mode, model, hasStarted, runtimeID, promptSuffix := s.Cwd, s.PermissionMode, s.Model, s.HasStarted, s.RuntimeSessionID, s.SystemPromptSuffix
	s.mu.Unlock()

	suffix := buildSystemPromptSuffix(contextConfig{
		ProductName: m.cfg.ProductName,
		Version:     m.cfg.ProductVersion,
		Port:        m.cfg.Port,
	}, cwd, m.cfg.GitStatus, m.cfg.Identity, firstNonEmpty(opts.SystemPromptAppend, promptSuffix))

	var mcpServers map[string]any
	if m.cfg.MCPFactory != nil {
		mcpServers = m.cfg.MCPFactory()
	}

	resume := ""
	if hasStarted && !isResumeRetry {
		resume = runtimeID
	}

	queryCtx, cancel := context.WithCancel(ctx)
	s.setActiveCancel(cancel)
	defer s.setActiveCancel(nil)
	defer cancel()

	iter, err := m.cfg.Client.Query(queryCtx, runtime.QueryOptions{
		Prompt:             content,
		Cwd:                cwd,
		Resume:             resume,
		PermissionMode:     mode,
		Model:              model,
		SystemPromptAppend: suffix,
		MCPServers:         mcpServers,
		OnApproval:         m.makeApprovalCallback(s),
		OnQuestion:         m.makeQuestionCallback(s),
	})
	if err != nil {
		if !isResumeRetry && isResumeFailure(err) {
			s.mu.Lock()
			s.HasStarted = false
			s.mu.Unlock()
			return m.runQuery(ctx, s, content, opts, sink, true)
		}
		sink(protocol.Event{Type: protocol.EventError, ErrorMessage: err.Error()})
		return err
	}
	defer iter.Close()

	mapper := newEventMapper()
	sawDone := false

	for {
		// Drain injected events first, per spec §9.
		for _, e := range s.drainEvents() {
			sink(e)
		}

		select {
		case <-queryCtx.Done():
			return queryCtx.Err()
		case <-s.notify.Wait():
			continue
		default:
		}

		msg, ok, err := iter.Next(queryCtx)
		if err != nil {
			if !isResumeRetry && isResumeFailure(err) {
				s.mu.Lock()
				s.HasStarted = false
				s.mu.Unlock()
				return m.runQuery(ctx, s, content, opts, sink, true)
			}
			sink(protocol.Event{Type: protocol.EventError, ErrorMessage: err.Error()})
			return err
		}
		if !ok {
			break
		}

		events, newID := mapper.Map(msg)
		for _, e := range events {
			if e.Type == protocol.EventDone {
				sawDone = true
			}
			sink(e)
		}
		if newID != "" {
			m.updateRuntimeSessionID(s, newID)
		}
		s.touch(time.Now())
		s.mu.Lock()
		s.HasStarted = true
		s.mu.Unlock()
	}

	for _, e := range s.drainEvents() {
		sink(e)
	}

	if !sawDone {
		sink(protocol.Event{Type: protocol.EventDone, DoneReason: "complete"})
	}
	return nil
}

func isResumeFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range resumeFailureSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// updateRuntimeSessionID atomically updates the reverse index when the
// runtime assigns a different session id mid-stream.
func (m *Manager) updateRuntimeSessionID(s *Session, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reverseIndex, s.RuntimeSessionID)
	s.mu.Lock()
	s.RuntimeSessionID = newID
	s.mu.Unlock()
	m.reverseIndex[newID] = s.SessionKey
}

// UpdateSessionOptions configures UpdateSession.
type UpdateSessionOptions struct {
	PermissionMode *runtime.PermissionMode
	Model          *string
}

// UpdateSession forwards a live permission-mode change to the in-flight
// query asynchronously (by mutating session state the next loop iteration
// reads) and applies a model change on the next query. Auto-creates the
// session, marking it as already started since an update implies resumption.
func (m *Manager) UpdateSession(sessionKey string, opts UpdateSessionOptions) error {
	if err := m.EnsureSession(sessionKey, EnsureSessionOptions{HasStarted: true}); err != nil {
		return err
	}
	s := m.get(sessionKey)
	s.mu.Lock()
	if opts.PermissionMode != nil {
		s.PermissionMode = *opts.PermissionMode
	}
	if opts.Model != nil {
		s.Model = *opts.Model
	}
	s.mu.Unlock()
	return nil
}

// ApproveTool resolves a pending approval. Returns false if no such pending
// interaction exists or its type doesn't match.
func (m *Manager) ApproveTool(sessionKey, toolCallID string, approved bool) bool {
	s := m.get(sessionKey)
	if s == nil {
		return false
	}
	return s.resolvePending(toolCallID, PendingApproval, PendingResult{Approved: approved})
}

// SubmitAnswers resolves a pending question.
func (m *Manager) SubmitAnswers(sessionKey, toolCallID string, answers map[string]string) bool {
	s := m.get(sessionKey)
	if s == nil {
		return false
	}
	return s.resolvePending(toolCallID, PendingQuestion, PendingResult{Answers: answers})
}

// CheckSessionHealth evicts every session idle past IdleTimeout, clearing
// pending-interaction timers and forwarding the eviction to the lock
// manager.
func (m *Manager) CheckSessionHealth() {
	now := time.Now()
	var evicted []string

	m.mu.Lock()
	for key, s := range m.sessions {
		if s.idleDuration(now) > IdleTimeout {
			s.clearAllPending()
			delete(m.reverseIndex, s.RuntimeSessionID)
			delete(m.sessions, key)
			evicted = append(evicted, key)
		}
	}
	m.mu.Unlock()

	if len(evicted) > 0 {
		m.locks.Cleanup(evicted)
	}
}

// GetSupportedModels returns a cached list of model descriptors; the first
// call triggers an asynchronous refresh, subsequent calls return the cache.
func (m *Manager) GetSupportedModels(ctx context.Context) []runtime.ModelDescriptor {
	m.modelsMu.Lock()
	cached := m.modelsCache
	alreadyFetching := m.modelsFetching
	if cached == nil && !alreadyFetching {
		m.modelsFetching = true
		go m.refreshModels()
	}
	m.modelsMu.Unlock()
	return cached
}

func (m *Manager) refreshModels() {
	models, err := m.cfg.Client.SupportedModels(context.Background())
	m.modelsMu.Lock()
	defer m.modelsMu.Unlock()
	m.modelsFetching = false
	if err == nil {
		m.modelsCache = models
	}
}

// AcquireLock, ReleaseLock, IsLocked, GetLockInfo expose the session lock
// surface (spec §4.4.1).
func (m *Manager) AcquireLock(sessionKey, clientID string) (LockInfo, error) {
	return m.locks.Acquire(sessionKey, clientID)
}

func (m *Manager) ReleaseLock(sessionKey, clientID string) {
	m.locks.Release(sessionKey, clientID)
}

func (m *Manager) IsLocked(sessionKey, clientID string) bool {
	return m.locks.IsLocked(sessionKey, clientID)
}

func (m *Manager) GetLockInfo(sessionKey string) (LockInfo, bool) {
	return m.locks.Info(sessionKey)
}

// GetSession returns a read-only snapshot of a session's detail, and
// whether it exists.
func (m *Manager) GetSession(sessionKey string) (protocol.SessionDetail, bool) {
	s := m.get(sessionKey)
	if s == nil {
		return protocol.SessionDetail{}, false
	}
	return s.snapshot(), true
}

// SessionCount returns the number of live sessions, used by the MCP Tool
// Registry's get_session_count tool.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) get(sessionKey string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionKey]
}

// LookupByRuntimeSessionID resolves a runtime session id back to its
// session key via the reverse index (spec §8 invariant).
func (m *Manager) LookupByRuntimeSessionID(runtimeSessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.reverseIndex[runtimeSessionID]
	return key, ok
}
