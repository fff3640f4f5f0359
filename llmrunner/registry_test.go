package llmrunner

import (
	"context"
	"encoding/json"
	"testing"
)

func TestToolRegistryRegisterAndGet(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{Name: "echo", Description: "echoes input"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})

	tool := reg.Get("echo")
	if tool == nil {
		t.Fatal("expected registered tool")
	}
	out, err := tool.Handler(context.Background(), json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `"hi"` {
		t.Errorf("expected %q, got %q", `"hi"`, out)
	}

	if reg.Get("missing") != nil {
		t.Error("expected nil for unregistered tool")
	}
}

func TestToolRegistryDefinitionsAndUnregister(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(RegisteredTool{Definition: ToolDefinition{Name: "a"}})
	reg.Register(RegisteredTool{Definition: ToolDefinition{Name: "b"}})

	if len(reg.Definitions()) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(reg.Definitions()))
	}

	reg.Unregister("a")
	if reg.Get("a") != nil {
		t.Error("expected tool removed after Unregister")
	}
	if len(reg.Names()) != 1 {
		t.Errorf("expected 1 name, got %d", len(reg.Names()))
	}
}
