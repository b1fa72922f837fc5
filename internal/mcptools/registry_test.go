package mcptools

import (
	"context"
	"testing"
)

type stubContributor struct{ specs []ToolSpec }

func (s stubContributor) Tools() []ToolSpec { return s.specs }

func TestBuildFactoryProducesFreshInstances(t *testing.T) {
	called := 0
	contributor := stubContributor{specs: []ToolSpec{
		{
			Name:        "echo",
			Description: "echoes the msg argument",
			SchemaJSON:  []byte(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`),
			Handler: func(ctx context.Context, args map[string]any) (string, bool) {
				called++
				return args["msg"].(string), false
			},
		},
	}}

	reg := New("dorkos", "test", nil, contributor)
	factory := reg.BuildFactory()

	s1 := factory()
	s2 := factory()
	if s1 == s2 {
		t.Fatal("expected BuildFactory to produce a distinct server instance per call")
	}
}

func TestRegistrySkipsNilContributors(t *testing.T) {
	reg := New("dorkos", "test", nil, nil, stubContributor{})
	factory := reg.BuildFactory()
	if s := factory(); s == nil {
		t.Fatal("expected a server instance even with a nil contributor in the list")
	}
}
