// Package runtime holds only the contract the Agent Manager programs
// against. The external LLM coding-agent runtime itself is out of scope
// (spec §1); this package describes its interface at the boundary the Agent
// Manager owns.
package runtime

import "context"

// PermissionMode mirrors the Session's permission mode (spec §3).
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionPlan              PermissionMode = "plan"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
)

// ApprovalCallback fires synchronously from the runtime for each tool use
// and blocks until the Agent Manager resolves the pending interaction.
type ApprovalCallback func(ctx context.Context, toolCallID, toolName string, args map[string]any) (approved bool, err error)

// QuestionCallback is the second tool-approval-callback variant: it awaits a
// structured answer instead of a boolean.
type QuestionCallback func(ctx context.Context, toolCallID, question string, fields []QuestionField) (answers map[string]string, err error)

// QuestionField describes one field of a structured question.
type QuestionField struct {
	ID       string
	Label    string
	Type     string
	Required bool
}

// QueryOptions configures a single runtime query.
type QueryOptions struct {
	Prompt            string
	Cwd               string
	Resume            string // prior runtime session id, empty for a fresh session
	PermissionMode    PermissionMode
	Model             string
	SystemPromptAppend string
	MCPServers        map[string]any // server-name -> opaque server handle (e.g. *mcpserver.Server)
	OnApproval        ApprovalCallback
	OnQuestion        QuestionCallback
}

// Message is one item from the runtime's async message stream, loosely
// typed because the runtime's actual message shapes are outside this
// module's scope; the Agent Manager's streaming mapper (internal/agentmgr)
// is the only consumer and switches on Kind.
type Message struct {
	Kind             string // "text_delta" | "tool_use" | "tool_result" | "session_id" | "task" | "done" | "error"
	Text             string
	ToolCallID       string
	ToolName         string
	ToolArgs         map[string]any
	ToolResult       map[string]any
	RuntimeSessionID string
	TaskID           string
	TaskDescription  string
	TaskStatus       string
	Err              error
}

// EventIterator is the runtime's async message stream. Next blocks until the
// next message is available, ctx is cancelled, or the stream ends.
type EventIterator interface {
	Next(ctx context.Context) (Message, bool, error)
	Close() error
}

// Client is the interface the Agent Manager programs against; the concrete
// implementation wraps the actual external LLM runtime and lives outside
// this module.
type Client interface {
	Query(ctx context.Context, opts QueryOptions) (EventIterator, error)

	// SupportedModels returns descriptors for models the runtime can select,
	// used to seed the Agent Manager's cached getSupportedModels response.
	SupportedModels(ctx context.Context) ([]ModelDescriptor, error)
}

// ModelDescriptor describes one selectable model.
type ModelDescriptor struct {
	ID          string
	DisplayName string
	ContextSize int
}
