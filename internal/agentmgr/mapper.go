package agentmgr

import (
	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/pkg/protocol"
)

// eventMapper translates runtime.Message values into zero or more
// protocol.Event values, tracking only the in-flight tool-call accumulator
// and the session-id-seen flag — it is otherwise pure with respect to
// session state, per spec §4.4.4.
type eventMapper struct {
	sessionIDSeen bool
	inFlightTools map[string]string // toolCallID -> toolName
}

func newEventMapper() *eventMapper {
	return &eventMapper{inFlightTools: map[string]string{}}
}

// Map returns the StreamEvents produced by one runtime message, and whether
// the message carried a new runtime session id for the caller to persist.
func (em *eventMapper) Map(msg runtime.Message) (events []protocol.Event, newRuntimeSessionID string) {
	switch msg.Kind {
	case "text_delta":
		events = append(events, protocol.Event{Type: protocol.EventTextDelta, Text: msg.Text})

	case "tool_use":
		em.inFlightTools[msg.ToolCallID] = msg.ToolName
		events = append(events, protocol.Event{
			Type:       protocol.EventToolCallStart,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
		})
		if len(msg.ToolArgs) > 0 {
			events = append(events, protocol.Event{
				Type:       protocol.EventToolCallDelta,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})
		}

	case "tool_result":
		name := em.inFlightTools[msg.ToolCallID]
		delete(em.inFlightTools, msg.ToolCallID)
		events = append(events, protocol.Event{
			Type:       protocol.EventToolCallEnd,
			ToolCallID: msg.ToolCallID,
			ToolName:   name,
			ToolResult: msg.ToolResult,
		})

	case "session_id":
		if !em.sessionIDSeen {
			em.sessionIDSeen = true
			events = append(events, protocol.Event{
				Type:             protocol.EventSessionStatus,
				RuntimeSessionID: msg.RuntimeSessionID,
			})
			newRuntimeSessionID = msg.RuntimeSessionID
		}

	case "task":
		events = append(events, protocol.Event{
			Type:            protocol.EventTask,
			TaskID:          msg.TaskID,
			TaskDescription: msg.TaskDescription,
			TaskStatus:      msg.TaskStatus,
		})

	case "done":
		events = append(events, protocol.Event{Type: protocol.EventDone, DoneReason: "complete"})

	case "error":
		errMsg := ""
		if msg.Err != nil {
			errMsg = msg.Err.Error()
		}
		events = append(events, protocol.Event{Type: protocol.EventError, ErrorMessage: errMsg})
	}

	return events, newRuntimeSessionID
}
