package llmrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmRunner implements Runner on top of a gollm.LLM instance. It
// translates the canonical request into a gollm prompt, extracts tool
// calls from the response, and dispatches them through the request's
// registry while firing the lifecycle hooks.
type GollmRunner struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmRunner.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the runner.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the runner.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmRunner creates a GollmRunner for the given provider. If apiKey
// is empty, gollm reads it from the provider's environment variable. The
// returned runner makes single attempts; wrap it in NewRetryingRunner
// for backoff on retryable failures.
func NewGollmRunner(provider string, apiKey string, opts ...GollmOption) (*GollmRunner, error) {
	cfg := &gollmConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5-20250514"
		default:
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to RetryingRunner, not gollm
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmRunner{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmRunnerFromLLM wraps an existing gollm.LLM instance.
func NewGollmRunnerFromLLM(provider string, llm gollm.LLM) *GollmRunner {
	return &GollmRunner{
		provider: provider,
		llm:      llm,
	}
}

// Provider returns the provider identifier.
func (r *GollmRunner) Provider() string {
	return r.provider
}

// Generate implements Runner. It makes one model call, then executes any
// requested tools through the request's registry. Each tool call is
// reported via Hooks.OnToolStart before execution and Hooks.OnToolEnd
// after, so the caller can track executions as they happen.
func (r *GollmRunner) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := r.translateRequest(req)

	if req.Model != "" {
		r.llm.SetOption("model", req.Model)
	}

	text, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, r.translateError(err)
	}

	toolCalls := r.parseToolCalls(text)
	cleanedText := r.stripToolCallJSON(text, toolCalls)

	result := &Result{
		Message: AssistantMessage(cleanedText, toolCalls...),
		Usage: Usage{
			// gollm does not expose provider usage; estimate from length.
			InputTokens:  estimateTokens(req.Messages),
			OutputTokens: len(text) / 4,
			TotalTokens:  estimateTokens(req.Messages) + len(text)/4,
		},
	}

	for _, tc := range toolCalls {
		result.ToolResults = append(result.ToolResults, r.dispatchTool(ctx, req, tc))
	}

	return result, nil
}

// dispatchTool executes one tool call through the registry, firing the
// lifecycle hooks around it.
func (r *GollmRunner) dispatchTool(ctx context.Context, req Request, tc ToolCall) ToolResult {
	if req.Hooks.OnToolStart != nil {
		req.Hooks.OnToolStart(tc)
	}

	tr := ToolResult{ToolCallID: tc.ID, Name: tc.Name}

	var registered *RegisteredTool
	if req.Tools != nil {
		registered = req.Tools.Get(tc.Name)
	}

	switch {
	case registered == nil:
		tr.Content = fmt.Sprintf("unknown tool: %s", tc.Name)
		tr.IsError = true
	default:
		output, err := registered.Handler(ctx, tc.Arguments)
		if err != nil {
			tr.Content = fmt.Sprintf("tool error (%s): %v", tc.Name, err)
			tr.IsError = true
		} else {
			tr.Content = output
		}
	}

	if req.Hooks.OnToolEnd != nil {
		req.Hooks.OnToolEnd(tr)
	}
	return tr
}

// translateRequest converts a canonical Request into a gollm Prompt.
func (r *GollmRunner) translateRequest(req Request) *gollm.Prompt {
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			userParts = append(userParts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				userParts = append(userParts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			if msg.ToolResult != nil {
				prefix := "[Tool Result]"
				if msg.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				userParts = append(userParts, prefix+": "+msg.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption

	systemPrompt := req.SystemPrompt
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			systemPrompt += "\n" + msg.Content
		}
	}
	if strings.TrimSpace(systemPrompt) != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	if req.Tools != nil {
		defs := req.Tools.Definitions()
		if len(defs) > 0 {
			tools := make([]gollm.Tool, 0, len(defs))
			for _, d := range defs {
				tools = append(tools, gollm.Tool{
					Type: "function",
					Function: gollm.Function{
						Name:        d.Name,
						Description: d.Description,
						Parameters:  d.Parameters,
					},
				})
			}
			promptOpts = append(promptOpts, gollm.WithTools(tools))
			promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
		}
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// parseToolCalls extracts tool calls that gollm returns embedded in the
// response text as JSON.
func (r *GollmRunner) parseToolCalls(text string) []ToolCall {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var calls []ToolCall
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err == nil {
		for _, rc := range rawCalls {
			calls = append(calls, ToolCall{
				ID:        "call_" + uuid.New().String()[:8],
				Name:      rc.Name,
				Arguments: rc.Arguments,
			})
		}
	}

	return calls
}

// stripToolCallJSON removes parsed tool call JSON from the text.
func (r *GollmRunner) stripToolCallJSON(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError converts a gollm error into the typed hierarchy.
func (r *GollmRunner) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") || strings.Contains(msgLower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{
			RunnerError: RunnerError{Message: msg, Cause: err}, Provider: r.provider, StatusCode: 401,
		}}
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			RunnerError: RunnerError{Message: msg, Cause: err}, Provider: r.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(msgLower, "context length") || strings.Contains(msgLower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{
			RunnerError: RunnerError{Message: msg, Cause: err}, Provider: r.provider, StatusCode: 413,
		}}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &ServerError{ProviderError: ProviderError{
			RunnerError: RunnerError{Message: msg, Cause: err}, Provider: r.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(msgLower, "timeout"):
		return &RequestTimeoutError{RunnerError: RunnerError{Message: msg, Cause: err}}
	default:
		return &ProviderError{
			RunnerError: RunnerError{Message: msg, Cause: err},
			Provider:    r.provider,
			Retryable:   true,
		}
	}
}

// estimateTokens provides a rough token estimate for a message list.
func estimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
