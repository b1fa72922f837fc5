package relay

import (
	"strings"
	"sync"
	"time"

	"github.com/dorkos/dorkos/internal/idgen"
	"github.com/dorkos/dorkos/internal/substrate"
)

// SpanKind names one kind of relay trace span (spec §3 Trace Span).
type SpanKind string

const (
	SpanPublish        SpanKind = "publish"
	SpanRoute          SpanKind = "route"
	SpanDeliver        SpanKind = "deliver"
	SpanAdapterIngress SpanKind = "adapter-ingress"
	SpanAdapterEgress  SpanKind = "adapter-egress"
	SpanDeadLetter     SpanKind = "dead-letter"
)

// Span is an immutable trace span record, written once. internal/relaytrace
// persists these; internal/relay only produces them, avoiding an import
// cycle (relaytrace depends on relay's Span type, not the reverse).
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	MessageID    string
	Kind         SpanKind
	Subject      string
	Status       string
	StartTs      time.Time
	EndTs        time.Time
	Err          string
	Metadata     map[string]any
}

// Tracer receives every span the bus produces.
type Tracer interface {
	RecordSpan(Span)
}

// AccessChecker gates publish against an optional rules engine (Mesh's
// access rules, when Mesh is enabled). A nil AccessChecker allows everything.
type AccessChecker interface {
	Allow(from, subject string) bool
}

// noopTracer discards spans; used when no Tracer is configured.
type noopTracer struct{}

func (noopTracer) RecordSpan(Span) {}

// Endpoint is a subscriber: a pattern (or concrete subject), an optional
// callback, and an optional durable inbox (spec §3 Subscription/Endpoint).
type Endpoint struct {
	ID       string
	Pattern  string
	Durable  bool
	Callback func(Envelope)
	Inbox    *Inbox
	Metadata map[string]any

	matcher matcher
}

// IsEndpoint reports whether the subscription is a durable, concrete-subject
// endpoint eligible for listing/inspection (spec §4.6.3): a pattern with no
// wildcard tokens.
func (e *Endpoint) IsEndpoint() bool {
	return e.Durable && !strings.ContainsAny(e.Pattern, "*>")
}

// SubscribeOptions configures Subscribe.
type SubscribeOptions struct {
	Callback func(Envelope)
	Durable  bool // if true, also maintains a durable inbox
	Metadata map[string]any
}

// PublishOptions configures Publish.
type PublishOptions struct {
	From    string
	ReplyTo string
	Budget  *Budget // nil uses DefaultBudget()
	TraceID string  // empty generates a fresh one
}

// PublishResult reports how many subscribers received the envelope.
type PublishResult struct {
	MessageID    string
	DeliveredTo  int
	MatchedCount int
}

// Bus is the Relay publish/subscribe core (spec §4.6).
type Bus struct {
	ids     *idgen.Service
	tracer  Tracer
	access  AccessChecker

	mu          sync.RWMutex
	endpoints   map[string]*Endpoint
	subjectLock map[string]*sync.Mutex // per-subject serialization for enumeration (spec §4.6.4)
}

// NewBus builds a Relay bus. tracer and access may be nil.
func NewBus(ids *idgen.Service, tracer Tracer, access AccessChecker) *Bus {
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &Bus{
		ids:         ids,
		tracer:      tracer,
		access:      access,
		endpoints:   map[string]*Endpoint{},
		subjectLock: map[string]*sync.Mutex{},
	}
}

// Subscribe registers a pattern subscriber with a callback, and optionally a
// durable inbox.
func (b *Bus) Subscribe(pattern string, opts SubscribeOptions) (*Endpoint, error) {
	m, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{
		ID:       b.ids.NewString(),
		Pattern:  pattern,
		Durable:  opts.Durable,
		Callback: opts.Callback,
		Metadata: opts.Metadata,
		matcher:  m,
	}
	if opts.Durable {
		ep.Inbox = newInbox()
	}
	b.mu.Lock()
	b.endpoints[ep.ID] = ep
	b.mu.Unlock()
	return ep, nil
}

// RegisterEndpoint is Subscribe specialized to a concrete subject with a
// durable inbox (spec §4.6.3 "An endpoint is a subscriber whose subject is a
// single concrete subject ... and whose inbox is durable").
func (b *Bus) RegisterEndpoint(subject string, metadata map[string]any) (*Endpoint, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	return b.Subscribe(subject, SubscribeOptions{Durable: true, Metadata: metadata})
}

// Unregister removes a subscription by ID. Idempotent.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	delete(b.endpoints, id)
	b.mu.Unlock()
}

// ListEndpoints returns every durable, concrete-subject endpoint (spec
// §4.6.3's listable endpoint set, excluding plain pattern subscriptions).
func (b *Bus) ListEndpoints() []*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Endpoint
	for _, ep := range b.endpoints {
		if ep.IsEndpoint() {
			out = append(out, ep)
		}
	}
	return out
}

// GetEndpoint looks up an endpoint by its concrete subject.
func (b *Bus) GetEndpoint(subject string) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ep := range b.endpoints {
		if ep.IsEndpoint() && ep.Pattern == subject {
			return ep, true
		}
	}
	return nil, false
}

// Publish runs the seven-step pipeline from spec §4.6.2.
func (b *Bus) Publish(subject string, payload any, opts PublishOptions) (PublishResult, error) {
	// 1. Validate the subject.
	if err := ValidateSubject(subject); err != nil {
		return PublishResult{}, err
	}

	// 2. Assemble envelope.
	budget := DefaultBudget()
	if opts.Budget != nil {
		budget = opts.Budget.withDefaults()
	}
	traceID := opts.TraceID
	if traceID == "" {
		traceID = b.ids.NewString()
	}
	env := Envelope{
		MessageID: b.ids.NewString(),
		Subject:   subject,
		From:      opts.From,
		ReplyTo:   opts.ReplyTo,
		Payload:   payload,
		TraceID:   traceID,
		CreatedAt: time.Now(),
		Budget:    budget,
	}
	now := env.CreatedAt
	b.recordSpan(Span{TraceID: traceID, SpanID: b.ids.NewString(), MessageID: env.MessageID, Kind: SpanPublish, Subject: subject, Status: "ok", StartTs: now, EndTs: now})

	// 3. Access rules.
	if b.access != nil && !b.access.Allow(opts.From, subject) {
		b.deadLetter(env, "access_denied")
		return PublishResult{}, substrate.New(substrate.CodeAccessDenied, "publish to %q denied for sender %q", subject, opts.From)
	}

	// 4. Enumerate matching subscribers (serialized per-subject to avoid torn
	// reads against concurrent subscription changes; spec §4.6.4).
	lock := b.subjectLockFor(subject)
	lock.Lock()
	matched := b.matchSubscribers(subject)
	lock.Unlock()

	for range matched {
		b.recordSpan(Span{TraceID: traceID, SpanID: b.ids.NewString(), MessageID: env.MessageID, Kind: SpanRoute, Subject: subject, Status: "ok", StartTs: now, EndTs: time.Now()})
	}

	// 5-6. Budget check + delivery, fanned out concurrently per subscriber.
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for _, ep := range matched {
		// Check the incoming budget, not the decremented one: a maxHops:1
		// envelope must still be delivered to this hop, with exhaustion
		// only surfacing if this hop tries to republish onward.
		if expired, reason := env.Budget.expired(time.Now()); expired {
			b.deadLetter(env, reason)
			continue
		}
		hopEnv := env
		hopEnv.Budget = env.Budget.decremented()

		wg.Add(1)
		go func(ep *Endpoint, e Envelope) {
			defer wg.Done()
			b.deliver(ep, e)
			mu.Lock()
			delivered++
			mu.Unlock()
		}(ep, hopEnv)
	}
	wg.Wait()

	return PublishResult{MessageID: env.MessageID, DeliveredTo: delivered, MatchedCount: len(matched)}, nil
}

func (b *Bus) matchSubscribers(subject string) []*Endpoint {
	tokens := strings.Split(subject, ".")
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Endpoint
	for _, ep := range b.endpoints {
		if ep.matcher.match(tokens) {
			out = append(out, ep)
		}
	}
	return out
}

func (b *Bus) subjectLockFor(subject string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.subjectLock[subject]
	if !ok {
		l = &sync.Mutex{}
		b.subjectLock[subject] = l
	}
	return l
}

func (b *Bus) deliver(ep *Endpoint, env Envelope) {
	start := time.Now()
	status := "ok"
	errMsg := ""

	if ep.Callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					status = "error"
					b.deadLetter(env, "callback_panic")
				}
			}()
			ep.Callback(env)
		}()
	}
	if ep.Inbox != nil {
		ep.Inbox.Append(env.MessageID)
	}

	b.recordSpan(Span{
		TraceID: env.TraceID, SpanID: b.ids.NewString(), MessageID: env.MessageID,
		Kind: SpanDeliver, Subject: env.Subject, Status: status, Err: errMsg,
		StartTs: start, EndTs: time.Now(),
	})
}

func (b *Bus) deadLetter(env Envelope, reason string) {
	b.recordSpan(Span{
		TraceID: env.TraceID, SpanID: b.ids.NewString(), MessageID: env.MessageID,
		Kind: SpanDeadLetter, Subject: env.Subject, Status: "dead_letter", Err: reason,
		StartTs: time.Now(), EndTs: time.Now(), Metadata: map[string]any{"reason": reason},
	})
}

func (b *Bus) recordSpan(s Span) {
	b.tracer.RecordSpan(s)
}
