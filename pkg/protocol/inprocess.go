package protocol

import "context"

// InProcess implements Port by delegating each operation to a function
// field, wired at startup by cmd/dorkosd to the concrete subsystems
// (internal/agentmgr, internal/transcript, ...). Subsystems live in
// packages that would otherwise import this one, so InProcess accepts
// functions rather than concrete types to avoid an import cycle — the same
// shape used for in-process test doubles and for the MCP Tool Registry's
// direct calls.
type InProcess struct {
	ListSessionsFn func(ctx context.Context, cwd string) ([]SessionSummary, error)
	GetSessionFn   func(ctx context.Context, sessionID string) (SessionDetail, error)
	SendMessageFn  func(ctx context.Context, req SendMessageRequest, sink func(Event)) error
	ApproveFn      func(ctx context.Context, sessionID, toolCallID string, approved bool) error
	AnswerFn       func(ctx context.Context, sessionID, toolCallID string, answers map[string]string) error
	PatchFn        func(ctx context.Context, sessionID string, patch SessionPatch) error
	LockFn         func(ctx context.Context, sessionID, clientID string) (LockInfo, error)
	UnlockFn       func(ctx context.Context, sessionID, clientID string) error
	ConfigGetFn    func(ctx context.Context) (map[string]any, error)
}

var _ Port = (*InProcess)(nil)

func (p *InProcess) SessionsList(ctx context.Context, cwd string) ([]SessionSummary, error) {
	return p.ListSessionsFn(ctx, cwd)
}

func (p *InProcess) SessionsGet(ctx context.Context, sessionID string) (SessionDetail, error) {
	return p.GetSessionFn(ctx, sessionID)
}

func (p *InProcess) SessionsSendMessage(ctx context.Context, req SendMessageRequest, sink func(Event)) error {
	return p.SendMessageFn(ctx, req, sink)
}

func (p *InProcess) SessionsApprove(ctx context.Context, sessionID, toolCallID string, approved bool) error {
	return p.ApproveFn(ctx, sessionID, toolCallID, approved)
}

func (p *InProcess) SessionsAnswer(ctx context.Context, sessionID, toolCallID string, answers map[string]string) error {
	return p.AnswerFn(ctx, sessionID, toolCallID, answers)
}

func (p *InProcess) SessionsPatch(ctx context.Context, sessionID string, patch SessionPatch) error {
	return p.PatchFn(ctx, sessionID, patch)
}

func (p *InProcess) SessionsLock(ctx context.Context, sessionID, clientID string) (LockInfo, error) {
	return p.LockFn(ctx, sessionID, clientID)
}

func (p *InProcess) SessionsUnlock(ctx context.Context, sessionID, clientID string) error {
	return p.UnlockFn(ctx, sessionID, clientID)
}

func (p *InProcess) ConfigGet(ctx context.Context) (map[string]any, error) {
	return p.ConfigGetFn(ctx)
}
