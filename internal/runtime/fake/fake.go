// Package fake provides a test double for internal/runtime.Client, grounded
// on the gateway's providers.Provider interface/fake-implementation pairing
// style (internal/providers/types.go).
package fake

import (
	"context"
	"sync"

	"github.com/dorkos/dorkos/internal/runtime"
)

// Client is a scriptable runtime.Client: each Query call pops the next
// scripted response off Responses (or returns an empty iterator and a nil
// error if none remain).
type Client struct {
	mu        sync.Mutex
	Responses [][]runtime.Message
	Models    []runtime.ModelDescriptor
	Queries   []runtime.QueryOptions // records every Query call for assertions
}

// New builds a fake client with the given scripted responses, one slice of
// messages per Query call in order.
func New(responses ...[]runtime.Message) *Client {
	return &Client{Responses: responses}
}

func (c *Client) Query(ctx context.Context, opts runtime.QueryOptions) (runtime.EventIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, opts)

	var messages []runtime.Message
	if len(c.Responses) > 0 {
		messages = c.Responses[0]
		c.Responses = c.Responses[1:]
	}
	return &iterator{messages: messages}, nil
}

func (c *Client) SupportedModels(ctx context.Context) ([]runtime.ModelDescriptor, error) {
	if c.Models != nil {
		return c.Models, nil
	}
	return []runtime.ModelDescriptor{
		{ID: "fake-model-1", DisplayName: "Fake Model One", ContextSize: 200000},
	}, nil
}

type iterator struct {
	messages []runtime.Message
	pos      int
	closed   bool
}

func (it *iterator) Next(ctx context.Context) (runtime.Message, bool, error) {
	select {
	case <-ctx.Done():
		return runtime.Message{}, false, ctx.Err()
	default:
	}
	if it.pos >= len(it.messages) {
		return runtime.Message{}, false, nil
	}
	m := it.messages[it.pos]
	it.pos++
	return m, true, nil
}

func (it *iterator) Close() error {
	it.closed = true
	return nil
}
