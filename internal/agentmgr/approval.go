package agentmgr

import (
	"context"
	"time"

	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/pkg/protocol"
)

// DefaultApprovalTimeout is the ~5 min window after which an unresolved
// approval implicitly denies (spec §4.4.2, §5 Timeouts).
const DefaultApprovalTimeout = 5 * time.Minute

// builtinEditTools are auto-allowed under acceptEdits mode.
var builtinEditTools = map[string]bool{
	"Write": true,
	"Edit":  true,
	"MultiEdit": true,
}

// readOnlyTools are the tools allowed to execute under plan mode.
var readOnlyTools = map[string]bool{
	"Read":  true,
	"Grep":  true,
	"Glob":  true,
	"LS":    true,
}

// makeApprovalCallback builds the tool-approval callback bound to a single
// session, behaving per its permission mode (spec §4.4.2 table).
func (m *Manager) makeApprovalCallback(s *Session) runtime.ApprovalCallback {
	return func(ctx context.Context, toolCallID, toolName string, args map[string]any) (bool, error) {
		switch s.PermissionMode {
		case runtime.PermissionBypassPermissions:
			return true, nil

		case runtime.PermissionAcceptEdits:
			if builtinEditTools[toolName] {
				return true, nil
			}
			return m.awaitApproval(ctx, s, toolCallID, toolName, args)

		case runtime.PermissionPlan:
			return readOnlyTools[toolName], nil

		default: // runtime.PermissionDefault
			return m.awaitApproval(ctx, s, toolCallID, toolName, args)
		}
	}
}

// awaitApproval registers a pending approval, emits tool_approval_request,
// and blocks until resolved or the default timeout denies it.
func (m *Manager) awaitApproval(ctx context.Context, s *Session, toolCallID, toolName string, args map[string]any) (bool, error) {
	timer := time.AfterFunc(DefaultApprovalTimeout, func() {
		s.resolvePending(toolCallID, PendingApproval, PendingResult{Approved: false})
	})
	pi := s.registerPending(toolCallID, PendingApproval, timer)

	s.enqueueEvent(protocol.Event{
		Type:       protocol.EventToolApprovalRequest,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	})

	select {
	case result := <-pi.Result:
		return result.Approved, nil
	case <-ctx.Done():
		s.resolvePending(toolCallID, PendingApproval, PendingResult{Approved: false})
		return false, ctx.Err()
	}
}

// makeQuestionCallback builds the question-asking callback bound to a
// session; unlike approvals, questions aren't gated by permission mode.
func (m *Manager) makeQuestionCallback(s *Session) runtime.QuestionCallback {
	return func(ctx context.Context, toolCallID, question string, fields []runtime.QuestionField) (map[string]string, error) {
		timer := time.AfterFunc(DefaultApprovalTimeout, func() {
			s.resolvePending(toolCallID, PendingQuestion, PendingResult{Answers: map[string]string{}})
		})
		pi := s.registerPending(toolCallID, PendingQuestion, timer)

		protoFields := make([]protocol.QuestionField, len(fields))
		for i, f := range fields {
			protoFields[i] = protocol.QuestionField{ID: f.ID, Label: f.Label, Type: f.Type, Required: f.Required}
		}
		s.enqueueEvent(protocol.Event{
			Type:           protocol.EventQuestionRequest,
			ToolCallID:     toolCallID,
			Question:       question,
			QuestionFields: protoFields,
		})

		select {
		case result := <-pi.Result:
			return result.Answers, nil
		case <-ctx.Done():
			s.resolvePending(toolCallID, PendingQuestion, PendingResult{Answers: map[string]string{}})
			return nil, ctx.Err()
		}
	}
}
