// Package protocol defines the wire-level contracts shared by every
// transport: the Stream Event union the Agent Manager produces, and the
// Transport port both the HTTP+SSE adapter and any in-process adapter
// implement.
package protocol

// EventType names one variant of the Stream Event union (spec §3, §9).
type EventType string

const (
	EventTextDelta           EventType = "text_delta"
	EventToolCallStart       EventType = "tool_call_start"
	EventToolCallDelta       EventType = "tool_call_delta"
	EventToolCallEnd         EventType = "tool_call_end"
	EventToolApprovalRequest EventType = "tool_approval_request"
	EventQuestionRequest     EventType = "question_request"
	EventStatus              EventType = "status"
	EventSessionStatus       EventType = "session_status"
	EventDone                EventType = "done"
	EventError               EventType = "error"
	EventRelayMessage        EventType = "relay_message"
	EventRelayReceipt        EventType = "relay_receipt"
	EventMessageDelivered    EventType = "message_delivered"
	EventSyncUpdate          EventType = "sync_update"
	EventTask                EventType = "task"
)

// Event is the tagged variant carrying exactly the fields each transport
// and client consumes for its Type. Unused fields are omitted from the wire
// form, mirroring the gateway's AgentEvent{Type, AgentID, RunID, Payload}
// shape but widened to every variant this spec names.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_call_start / delta / end
	ToolCallID   string         `json:"toolCallId,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
	ToolArgsJSON string         `json:"toolArgsJson,omitempty"`
	ToolApproved *bool          `json:"toolApproved,omitempty"`
	ToolResult   map[string]any `json:"toolResult,omitempty"`

	// tool_approval_request / question_request
	Question       string          `json:"question,omitempty"`
	QuestionFields []QuestionField `json:"questionFields,omitempty"`

	// status
	Status string `json:"status,omitempty"` // "running" | "idle"

	// session_status
	SessionID        string `json:"sessionId,omitempty"`
	RuntimeSessionID string `json:"runtimeSessionId,omitempty"`

	// error
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Path         string `json:"path,omitempty"`

	// relay_message / relay_receipt / message_delivered
	RelayMessageID string `json:"relayMessageId,omitempty"`
	RelaySubject   string `json:"relaySubject,omitempty"`
	RelayPayload   any    `json:"relayPayload,omitempty"`

	// sync_update
	SyncSessionID string `json:"syncSessionId,omitempty"`
	SyncCwd       string `json:"syncCwd,omitempty"`

	// task
	TaskID          string `json:"taskId,omitempty"`
	TaskDescription string `json:"taskDescription,omitempty"`
	TaskStatus      string `json:"taskStatus,omitempty"`

	// done
	DoneReason string `json:"doneReason,omitempty"`

	TimestampUnixMs int64 `json:"timestampUnixMs,omitempty"`
}

// QuestionField describes one structured field of a question_request event.
type QuestionField struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}
