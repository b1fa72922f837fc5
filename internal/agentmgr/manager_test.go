package agentmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dorkos/dorkos/internal/boundary"
	"github.com/dorkos/dorkos/internal/runtime"
	"github.com/dorkos/dorkos/internal/runtime/fake"
	"github.com/dorkos/dorkos/pkg/protocol"
)

func newTestManager(t *testing.T, client runtime.Client) (*Manager, *boundary.Guard) {
	t.Helper()
	root := t.TempDir()
	guard, err := boundary.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	m := New(Config{
		Client:      client,
		Boundary:    guard,
		MaxSessions: 2,
		DefaultCwd:  root,
		ProductName: "dorkos",
	})
	return m, guard
}

func TestSendMessageStreamsEvents(t *testing.T) {
	client := fake.New([]runtime.Message{
		{Kind: "session_id", RuntimeSessionID: "rt-1"},
		{Kind: "text_delta", Text: "hello"},
		{Kind: "done"},
	})
	m, _ := newTestManager(t, client)

	var got []protocol.Event
	err := m.SendMessage(context.Background(), "sess-1", "hi", SendMessageOptions{}, func(e protocol.Event) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != protocol.EventSessionStatus || got[0].RuntimeSessionID != "rt-1" {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].Type != protocol.EventTextDelta || got[1].Text != "hello" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
	if got[2].Type != protocol.EventDone {
		t.Fatalf("unexpected third event: %+v", got[2])
	}

	key, ok := m.LookupByRuntimeSessionID("rt-1")
	if !ok || key != "sess-1" {
		t.Fatalf("reverse index not updated: key=%q ok=%v", key, ok)
	}
}

func TestSendMessageBoundaryViolation(t *testing.T) {
	client := fake.New([]runtime.Message{{Kind: "done"}})
	m, _ := newTestManager(t, client)

	var got []protocol.Event
	err := m.SendMessage(context.Background(), "sess-1", "hi", SendMessageOptions{Cwd: "/etc/passwd-does-not-exist-outside-root"}, func(e protocol.Event) {
		got = append(got, e)
	})
	if err == nil {
		t.Fatal("expected boundary violation error")
	}
	if len(got) != 1 || got[0].Type != protocol.EventError {
		t.Fatalf("expected single error event, got %+v", got)
	}
}

func TestSessionLimitEnforced(t *testing.T) {
	client := fake.New([]runtime.Message{{Kind: "done"}}, []runtime.Message{{Kind: "done"}}, []runtime.Message{{Kind: "done"}})
	m, _ := newTestManager(t, client)

	if err := m.EnsureSession("a", EnsureSessionOptions{}); err != nil {
		t.Fatalf("EnsureSession a: %v", err)
	}
	if err := m.EnsureSession("b", EnsureSessionOptions{}); err != nil {
		t.Fatalf("EnsureSession b: %v", err)
	}
	if err := m.EnsureSession("c", EnsureSessionOptions{}); err == nil {
		t.Fatal("expected SESSION_LIMIT error on third session")
	}
}

func TestApproveToolResolvesPendingInteraction(t *testing.T) {
	approvalSeen := make(chan struct{})
	client := &blockingApprovalClient{approvalSeen: approvalSeen}
	m, _ := newTestManager(t, client)

	done := make(chan error, 1)
	var got []protocol.Event
	go func() {
		done <- m.SendMessage(context.Background(), "sess-1", "hi", SendMessageOptions{}, func(e protocol.Event) {
			got = append(got, e)
		})
	}()

	select {
	case <-approvalSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for approval callback to fire")
	}

	// Poll briefly for the pending interaction to be registered before resolving.
	deadline := time.Now().Add(time.Second)
	for {
		if m.ApproveTool("sess-1", "call-1", true) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ApproveTool never found a pending interaction")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage did not complete after approval")
	}
}

func TestCheckSessionHealthEvictsIdleSessions(t *testing.T) {
	client := fake.New([]runtime.Message{{Kind: "done"}})
	m, _ := newTestManager(t, client)

	if err := m.EnsureSession("stale", EnsureSessionOptions{}); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	s := m.get("stale")
	s.mu.Lock()
	s.LastActivity = time.Now().Add(-IdleTimeout - time.Minute)
	s.mu.Unlock()

	m.CheckSessionHealth()

	if _, ok := m.GetSession("stale"); ok {
		t.Fatal("expected stale session to be evicted")
	}
}

// blockingApprovalClient fires an approval callback and waits for it,
// letting the test drive ApproveTool concurrently.
type blockingApprovalClient struct {
	approvalSeen chan struct{}
}

func (c *blockingApprovalClient) Query(ctx context.Context, opts runtime.QueryOptions) (runtime.EventIterator, error) {
	return &approvalIterator{opts: opts, approvalSeen: c.approvalSeen}, nil
}

func (c *blockingApprovalClient) SupportedModels(ctx context.Context) ([]runtime.ModelDescriptor, error) {
	return nil, nil
}

type approvalIterator struct {
	opts         runtime.QueryOptions
	approvalSeen chan struct{}
	done         bool
}

func (it *approvalIterator) Next(ctx context.Context) (runtime.Message, bool, error) {
	if it.done {
		return runtime.Message{}, false, nil
	}
	it.done = true
	close(it.approvalSeen)
	approved, err := it.opts.OnApproval(ctx, "call-1", "Write", nil)
	if err != nil {
		return runtime.Message{}, false, err
	}
	if !approved {
		return runtime.Message{}, false, errors.New("denied")
	}
	return runtime.Message{Kind: "done"}, true, nil
}

func (it *approvalIterator) Close() error { return nil }
