package mcptools

import (
	"context"
	"fmt"

	"github.com/dorkos/dorkos/internal/transcript"
)

// TranscriptContributor exposes read-only transcript browsing: list_sessions
// and read_transcript, backed by internal/transcript.Reader's on-disk JSONL
// session log scan (spec §4.3).
type TranscriptContributor struct {
	Reader *transcript.Reader
}

var _ ToolContributor = (*TranscriptContributor)(nil)

func (c *TranscriptContributor) Tools() []ToolSpec {
	if c.Reader == nil {
		return nil
	}
	return []ToolSpec{
		{
			Name:        "list_sessions",
			Description: "Lists past sessions recorded under the given working directory, newest first.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				cwd, _ := args["cwd"].(string)
				sessions, err := c.Reader.ListSessions(cwd)
				if err != nil {
					return fmt.Sprintf("failed to list sessions: %v", err), true
				}
				return marshalOrError(sessions)
			},
		},
		{
			Name:        "read_transcript",
			Description: "Reads the full line-delimited transcript for a session ID.",
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				sessionID, _ := args["sessionId"].(string)
				if sessionID == "" {
					return "sessionId is required", true
				}
				stream, err := c.Reader.ReadTranscript(sessionID)
				if err != nil {
					return fmt.Sprintf("failed to open transcript: %v", err), true
				}
				defer stream.Close()

				var lines []transcript.Line
				for {
					line, ok := stream.Next()
					if !ok {
						break
					}
					lines = append(lines, line)
				}
				return marshalOrError(lines)
			},
		},
	}
}
