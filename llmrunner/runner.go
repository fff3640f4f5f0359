package llmrunner

import "context"

// Hooks carries the tool-lifecycle callbacks a caller attaches to a
// request. The runner invokes OnToolStart when the model requests a tool
// and OnToolEnd when its result is available, while generation is still
// in progress. Either hook may be nil.
type Hooks struct {
	OnToolStart func(ToolCall)
	OnToolEnd   func(ToolResult)
}

// Request describes one generation: the conversation so far, the system
// prompt, the tools the model may call, and the lifecycle hooks.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        *ToolRegistry
	Model        string
	Hooks        Hooks
}

// Result is the outcome of one generation.
type Result struct {
	Message     Message
	ToolResults []ToolResult
	Usage       Usage
}

// Runner produces one model response, dispatching any tool calls through
// the request's registry and reporting them via the hooks.
type Runner interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
