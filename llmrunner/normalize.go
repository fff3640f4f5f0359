package llmrunner

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Providers disagree on field names for tool-call payloads: some emit
// "toolCallId" where others emit "id", and results arrive under "result",
// "output", or "content". These normalizers accept either spelling and
// produce the canonical structs so nothing downstream has to guess.

type rawToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments"`
	Args       json.RawMessage `json:"args"`
	Input      json.RawMessage `json:"input"`
}

type rawToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result"`
	Output     json.RawMessage `json:"output"`
	Content    json.RawMessage `json:"content"`
	Error      string          `json:"error"`
	IsError    bool            `json:"isError"`
}

// NormalizeToolCall parses a provider tool-call payload into a ToolCall.
// A missing call id is replaced with a generated one so the call remains
// trackable.
func NormalizeToolCall(payload json.RawMessage) (ToolCall, error) {
	var raw rawToolCall
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ToolCall{}, fmt.Errorf("parse tool call: %w", err)
	}

	id := raw.ToolCallID
	if id == "" {
		id = raw.ID
	}
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}

	name := raw.Name
	if name == "" {
		name = raw.ToolName
	}
	if name == "" {
		return ToolCall{}, fmt.Errorf("tool call %s has no tool name", id)
	}

	args := raw.Arguments
	if len(args) == 0 {
		args = raw.Args
	}
	if len(args) == 0 {
		args = raw.Input
	}

	return ToolCall{ID: id, Name: name, Arguments: args}, nil
}

// NormalizeToolResult parses a provider tool-result payload into a
// ToolResult. Result content may be a JSON string or any JSON value; the
// latter is kept as its raw text.
func NormalizeToolResult(payload json.RawMessage) (ToolResult, error) {
	var raw rawToolResult
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ToolResult{}, fmt.Errorf("parse tool result: %w", err)
	}

	id := raw.ToolCallID
	if id == "" {
		id = raw.ID
	}
	if id == "" {
		return ToolResult{}, fmt.Errorf("tool result has no call id")
	}

	name := raw.Name
	if name == "" {
		name = raw.ToolName
	}

	content := raw.Result
	if len(content) == 0 {
		content = raw.Output
	}
	if len(content) == 0 {
		content = raw.Content
	}

	// Some providers report failures only through the error field; keep
	// the failure text as the content so it survives normalization.
	text := rawToString(content)
	if text == "" && raw.Error != "" {
		text = raw.Error
	}

	return ToolResult{
		ToolCallID: id,
		Name:       name,
		Content:    text,
		IsError:    raw.IsError || raw.Error != "",
	}, nil
}

// rawToString unwraps a JSON string, or returns the raw text for any
// other JSON value.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
