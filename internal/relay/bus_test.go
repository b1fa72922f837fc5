package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/dorkos/dorkos/internal/idgen"
)

type recordingTracer struct {
	mu    sync.Mutex
	spans []Span
}

func (t *recordingTracer) RecordSpan(s Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, s)
}

func (t *recordingTracer) kinds() []SpanKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SpanKind, len(t.spans))
	for i, s := range t.spans {
		out[i] = s.Kind
	}
	return out
}

func newTestBus(tracer Tracer, access AccessChecker) *Bus {
	return NewBus(idgen.New(nil), tracer, access)
}

func TestPublishDeliversToCallbackSubscriber(t *testing.T) {
	bus := newTestBus(nil, nil)
	var got Envelope
	done := make(chan struct{})
	_, err := bus.Subscribe("relay.system.*", SubscribeOptions{Callback: func(e Envelope) {
		got = e
		close(done)
	}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	res, err := bus.Publish("relay.system.pulse", map[string]any{"hello": "world"}, PublishOptions{From: "test"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.DeliveredTo != 1 {
		t.Fatalf("expected 1 delivery, got %d", res.DeliveredTo)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	if got.Subject != "relay.system.pulse" {
		t.Fatalf("unexpected subject: %q", got.Subject)
	}
}

func TestPublishInvalidSubjectRejected(t *testing.T) {
	bus := newTestBus(nil, nil)
	if _, err := bus.Publish("bad.*.subject", nil, PublishOptions{}); err == nil {
		t.Fatal("expected INVALID_SUBJECT error")
	}
}

func TestPublishAccessDenied(t *testing.T) {
	tracer := &recordingTracer{}
	bus := newTestBus(tracer, denyAll{})
	if _, err := bus.Publish("mesh.agent.x", nil, PublishOptions{From: "outsider"}); err == nil {
		t.Fatal("expected ACCESS_DENIED error")
	}
	found := false
	for _, k := range tracer.kinds() {
		if k == SpanDeadLetter {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a dead-letter span on access denial")
	}
}

func TestRegisterEndpointAndInboxDelivery(t *testing.T) {
	bus := newTestBus(nil, nil)
	ep, err := bus.RegisterEndpoint("mesh.agent.abc123", nil)
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}

	if _, err := bus.Publish("mesh.agent.abc123", "payload", PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	page := ep.Inbox.Read(ReadOptions{})
	if len(page.Messages) != 1 {
		t.Fatalf("expected 1 inbox message, got %d", len(page.Messages))
	}
	if page.Messages[0].Status != InboxNew {
		t.Fatalf("expected status new, got %s", page.Messages[0].Status)
	}

	eps := bus.ListEndpoints()
	if len(eps) != 1 || eps[0].ID != ep.ID {
		t.Fatalf("expected ListEndpoints to return the registered endpoint")
	}
}

func TestBudgetExhaustionDeadLetters(t *testing.T) {
	tracer := &recordingTracer{}
	bus := newTestBus(tracer, nil)
	delivered := false
	_, _ = bus.Subscribe("x.y", SubscribeOptions{Callback: func(Envelope) { delivered = true }})

	exhausted := Budget{MaxHops: 0, TTLUnixMs: time.Now().Add(time.Minute).UnixMilli(), CallBudgetRemaining: 5}
	res, err := bus.Publish("x.y", nil, PublishOptions{Budget: &exhausted})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.DeliveredTo != 0 {
		t.Fatal("expected no deliveries once budget is exhausted")
	}
	if delivered {
		t.Fatal("callback should not have fired")
	}
}

func TestMaxHopsOneDeliversOnceThenExhaustsOnRepublish(t *testing.T) {
	tracer := &recordingTracer{}
	bus := newTestBus(tracer, nil)

	var gotBudget Budget
	delivered := 0
	_, _ = bus.Subscribe("hop.a", SubscribeOptions{Callback: func(e Envelope) {
		delivered++
		gotBudget = e.Budget
	}})
	_, _ = bus.Subscribe("hop.b", SubscribeOptions{Callback: func(Envelope) {
		t.Fatal("hop.b should never receive a republish once the budget is exhausted")
	}})

	budget := Budget{MaxHops: 1}
	res, err := bus.Publish("hop.a", nil, PublishOptions{Budget: &budget})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.DeliveredTo != 1 || delivered != 1 {
		t.Fatalf("expected exactly 1 delivery to hop.a, got DeliveredTo=%d delivered=%d", res.DeliveredTo, delivered)
	}
	if gotBudget.MaxHops != 0 {
		t.Fatalf("expected hop.a's envelope to carry a decremented budget (MaxHops=0), got %d", gotBudget.MaxHops)
	}

	// hop.a tries to republish onward with the budget it received; it must
	// be dead-lettered, not delivered to hop.b.
	res2, err := bus.Publish("hop.b", nil, PublishOptions{Budget: &gotBudget})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res2.DeliveredTo != 0 {
		t.Fatal("expected the exhausted republish to be dead-lettered, not delivered")
	}

	deadLetters := 0
	for _, k := range tracer.kinds() {
		if k == SpanDeadLetter {
			deadLetters++
		}
	}
	if deadLetters != 1 {
		t.Fatalf("expected exactly 1 dead-letter span, got %d", deadLetters)
	}
}

type denyAll struct{}

func (denyAll) Allow(from, subject string) bool { return false }
