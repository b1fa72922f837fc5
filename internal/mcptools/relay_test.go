package mcptools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/relay"
	"github.com/dorkos/dorkos/internal/relay/adapter"
)

func TestRelayContributorGatesOnBus(t *testing.T) {
	c := &RelayContributor{}
	if tools := c.Tools(); tools != nil {
		t.Fatalf("expected nil tools without a Bus, got %v", tools)
	}
}

func TestRelayContributorSendAndInbox(t *testing.T) {
	bus := relay.NewBus(idgen.New(nil), nil, nil)
	if _, err := bus.RegisterEndpoint("relay.system.test", nil); err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	c := &RelayContributor{Bus: bus}
	tools := c.Tools()

	sendTool, ok := findTool(tools, "send")
	if !ok {
		t.Fatal("expected send tool")
	}
	content, isError := sendTool.Handler(context.Background(), map[string]any{"subject": "relay.system.test", "payload": "hi"})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	inboxTool, ok := findTool(tools, "inbox")
	if !ok {
		t.Fatal("expected inbox tool")
	}
	content, isError = inboxTool.Handler(context.Background(), map[string]any{"subject": "relay.system.test"})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	var page struct {
		Messages []relay.Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(content), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected 1 inbox message, got %d", len(page.Messages))
	}
}

func TestAdapterContributorGatesOnRegistry(t *testing.T) {
	c := &AdapterContributor{}
	if tools := c.Tools(); tools != nil {
		t.Fatal("expected nil tools without a Registry")
	}
}

func TestBindingContributorCreateAndList(t *testing.T) {
	store, err := adapter.OpenBindingStore(filepath.Join(t.TempDir(), "bindings.db"))
	if err != nil {
		t.Fatalf("OpenBindingStore: %v", err)
	}
	defer store.Close()

	c := &BindingContributor{Store: store}
	tools := c.Tools()

	createTool, _ := findTool(tools, "create_binding")
	content, isError := createTool.Handler(context.Background(), map[string]any{
		"id": "b1", "adapterId": "discord", "agentId": "a1",
		"agentWorkingDirectory": "/ws/a1", "sessionStrategy": "per-chat",
	})
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}

	listTool, _ := findTool(tools, "list_bindings")
	content, isError = listTool.Handler(context.Background(), nil)
	if isError {
		t.Fatalf("unexpected error: %s", content)
	}
	var bindings []adapter.Binding
	if err := json.Unmarshal([]byte(content), &bindings); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(bindings) != 1 || bindings[0].ID != "b1" {
		t.Fatalf("expected 1 binding b1, got %+v", bindings)
	}
}
