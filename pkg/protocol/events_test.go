package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		{Type: EventTextDelta, Text: "hello"},
		{Type: EventToolCallStart, ToolCallID: "t1", ToolName: "Write"},
		{Type: EventError, ErrorCode: "BOUNDARY_VIOLATION", Path: "/etc"},
		{Type: EventDone, DoneReason: "complete"},
	}

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal %v: %v", e, err)
		}
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if !reflect.DeepEqual(got, e) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, e)
		}
	}
}

func TestCatalogCoversStreamingOps(t *testing.T) {
	found := map[string]bool{}
	for _, op := range Catalog {
		found[op.Name] = op.Streaming
	}
	if !found[OpSessionsSendMessage] {
		t.Fatal("sessions.sendMessage should be marked streaming")
	}
	if !found[OpSync] {
		t.Fatal("sync should be marked streaming")
	}
	if found[OpSessionsGet] {
		t.Fatal("sessions.get should not be streaming")
	}
}
