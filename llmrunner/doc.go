// Package llmrunner defines the model-execution collaborator surface the
// agent loop depends on.
//
// The package is organized around these core concepts:
//
//   - Message/ToolCall/ToolResult: canonical conversation types. Incoming
//     provider payloads are normalized into these exactly once, at the
//     boundary (see NormalizeToolCall and NormalizeToolResult).
//   - Runner: the interface the loop coordinator calls to produce one
//     model response. Hooks on the request report tool-call lifecycle so
//     the caller can track executions as they happen.
//   - ToolRegistry: registration and dispatch of tool handlers.
//   - GollmRunner: the packaged Runner implementation backed by gollm.
//
// Errors returned by runners use a typed hierarchy with per-class
// retryability; Retry wraps any call with exponential backoff.
package llmrunner
