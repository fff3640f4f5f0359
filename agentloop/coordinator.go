package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loopworks/taor/agentstate"
	"github.com/loopworks/taor/llmrunner"
	"github.com/loopworks/taor/statestore"
)

// TurnResult is the continuation decision a completed turn reports.
type TurnResult struct {
	// ShouldContinue is true when the turn hit tool errors and its
	// confidence is low enough that another turn is warranted.
	ShouldContinue bool `json:"should_continue"`

	// NextAction is the suggested follow-up when ShouldContinue is true.
	NextAction string `json:"next_action,omitempty"`
}

// Coordinator drives the think-act-observe-reflect cycle for one
// session. Turns are strictly sequential: ExecuteTurn holds a
// per-session lock for the whole turn, because persisted writes are
// unconditional overwrites and concurrent turns on one session would
// race. Different sessions' coordinators share nothing and run fully in
// parallel.
//
// The tool tracking methods are safe to call from other goroutines
// while a turn is in flight; the runner's hooks do exactly that.
type Coordinator struct {
	turnMu sync.Mutex

	manager      statestore.Manager
	runner       llmrunner.Runner
	tools        *llmrunner.ToolRegistry
	classifier   Classifier
	sink         EventSink
	cfg          Config
	logger       *slog.Logger
	systemPrompt string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRunner attaches the LLM runner invoked during the act phase. With
// no runner the act phase only records the delegation step; tools are
// then tracked solely through TrackToolExecution calls.
func WithRunner(r llmrunner.Runner) CoordinatorOption {
	return func(c *Coordinator) {
		c.runner = r
	}
}

// WithTools sets the tool registry handed to the runner.
func WithTools(tools *llmrunner.ToolRegistry) CoordinatorOption {
	return func(c *Coordinator) {
		c.tools = tools
	}
}

// WithClassifier replaces the default keyword classifier.
func WithClassifier(cl Classifier) CoordinatorOption {
	return func(c *Coordinator) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithEventSink attaches a sink for real-time progress events.
func WithEventSink(sink EventSink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithConfig overrides the loop configuration.
func WithConfig(cfg Config) CoordinatorOption {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithCoordinatorLogger sets the coordinator's logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSystemPrompt sets the system prompt passed to the runner.
func WithSystemPrompt(prompt string) CoordinatorOption {
	return func(c *Coordinator) {
		c.systemPrompt = prompt
	}
}

// NewCoordinator creates a Coordinator over an already-loaded session
// manager.
func NewCoordinator(manager statestore.Manager, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		manager:    manager,
		classifier: NewKeywordClassifier(),
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the session this coordinator drives.
func (c *Coordinator) SessionID() string {
	return c.manager.SessionID()
}

// ExecuteTurn drives one full think-act-observe-reflect cycle for the
// given user message and returns the continuation decision.
//
// Failures inside the phases never escape as errors: they are recorded
// as an error observation, the loop is stopped, and the turn reports
// ShouldContinue=false. Retry, if any, is the caller's decision.
func (c *Coordinator) ExecuteTurn(ctx context.Context, userMessage string) (TurnResult, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	m := c.manager
	sessionID := m.SessionID()

	m.StartLoop()
	c.logger.Debug("turn started",
		slog.String("session_id", sessionID),
		slog.Int("turn", m.State().TurnCount),
	)

	// Tool executions recorded before this index belong to prior turns.
	toolsBefore := len(m.State().Tools)

	result, err := c.runPhases(ctx, userMessage, toolsBefore)
	if err != nil {
		obs := m.AddObservation(agentstate.ObservationError,
			fmt.Sprintf("Turn failed: %v", err), "", nil)
		c.emitObservation(sessionID, obs)
		m.StopLoop()
		c.logger.Error("turn aborted",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return TurnResult{ShouldContinue: false}, nil
	}

	m.StopLoop()
	c.logger.Debug("turn complete",
		slog.String("session_id", sessionID),
		slog.Bool("should_continue", result.ShouldContinue),
	)
	return result, nil
}

func (c *Coordinator) runPhases(ctx context.Context, userMessage string, toolsBefore int) (TurnResult, error) {
	if err := c.think(userMessage); err != nil {
		return TurnResult{}, fmt.Errorf("think: %w", err)
	}
	if err := c.act(ctx, userMessage); err != nil {
		return TurnResult{}, fmt.Errorf("act: %w", err)
	}
	succeeded, failed, incomplete, err := c.observe(toolsBefore)
	if err != nil {
		return TurnResult{}, fmt.Errorf("observe: %w", err)
	}
	result, err := c.reflect(succeeded, failed, incomplete)
	if err != nil {
		return TurnResult{}, fmt.Errorf("reflect: %w", err)
	}
	return result, nil
}

// think classifies the message into a plan and records one reasoning
// step per plan step.
func (c *Coordinator) think(userMessage string) error {
	m := c.manager
	c.emitPhase(m.SessionID(), agentstate.PhaseThink)

	for _, plan := range c.classifier.Classify(userMessage) {
		step := m.AddReasoningStep(agentstate.PhaseThink, plan.Description, map[string]any{
			"category": plan.Category,
		})
		c.emitStep(m.SessionID(), step)
	}
	return nil
}

// act records the delegation step and, when a runner is attached,
// invokes it with hooks that track each tool call as it happens.
func (c *Coordinator) act(ctx context.Context, userMessage string) error {
	m := c.manager
	m.SetPhase(agentstate.PhaseAct)
	c.emitPhase(m.SessionID(), agentstate.PhaseAct)

	step := m.AddReasoningStep(agentstate.PhaseAct,
		"Delegating execution to the model runner", nil)
	c.emitStep(m.SessionID(), step)

	// The session may have been seeded with this message as its opening
	// entry; don't record it twice.
	history := m.State().ConversationHistory
	if n := len(history); n == 0 || history[n-1].Role != llmrunner.RoleUser || history[n-1].Content != userMessage {
		m.AppendMessage(llmrunner.UserMessage(userMessage))
	}

	if c.runner == nil {
		return nil
	}

	// The runner reports tool calls by the model's call id; executions
	// are tracked by our own ids. The hooks bridge the two.
	var idMu sync.Mutex
	callToExec := make(map[string]string)

	req := llmrunner.Request{
		SystemPrompt: c.systemPrompt,
		Messages:     m.State().ConversationHistory,
		Tools:        c.tools,
		Hooks: llmrunner.Hooks{
			OnToolStart: func(call llmrunner.ToolCall) {
				execID := c.TrackToolExecution(call.Name, call.Arguments, nil)
				idMu.Lock()
				callToExec[call.ID] = execID
				idMu.Unlock()
			},
			OnToolEnd: func(res llmrunner.ToolResult) {
				idMu.Lock()
				execID := callToExec[res.ToolCallID]
				idMu.Unlock()
				if res.IsError {
					// The error string is the status discriminator
					// downstream; never let a failure with empty content
					// be recorded as success.
					msg := res.Content
					if msg == "" {
						msg = "tool failed"
					}
					c.UpdateToolExecution(execID, "", msg)
				} else {
					c.UpdateToolExecution(execID, res.Content, "")
				}
			},
		},
	}

	result, err := c.runner.Generate(ctx, req)
	if err != nil {
		return err
	}
	m.AppendMessage(result.Message)
	return nil
}

// observe partitions this turn's tool executions and records one
// observation per non-empty partition, each mirrored as a reasoning
// step.
func (c *Coordinator) observe(toolsBefore int) (succeeded, failed, incomplete []agentstate.ToolExecution, err error) {
	m := c.manager
	m.SetPhase(agentstate.PhaseObserve)
	c.emitPhase(m.SessionID(), agentstate.PhaseObserve)

	state := m.State()
	if toolsBefore > len(state.Tools) {
		toolsBefore = len(state.Tools)
	}
	turnTools := state.Tools[toolsBefore:]

	for _, exec := range turnTools {
		switch exec.Status {
		case agentstate.ToolSuccess:
			succeeded = append(succeeded, exec)
		case agentstate.ToolError:
			failed = append(failed, exec)
		default:
			incomplete = append(incomplete, exec)
		}
	}

	if len(turnTools) == 0 {
		c.recordObservation(agentstate.ObservationToolResult,
			"No tools were invoked this turn", "")
		return nil, nil, nil, nil
	}

	if len(succeeded) > 0 {
		c.recordObservation(agentstate.ObservationSuccess,
			fmt.Sprintf("%d tool(s) completed successfully: %s",
				len(succeeded), toolNames(succeeded)), succeeded[0].ID)
	}
	if len(failed) > 0 {
		c.recordObservation(agentstate.ObservationError,
			fmt.Sprintf("%d tool(s) failed: %s",
				len(failed), toolNames(failed)), failed[0].ID)
	}
	if len(incomplete) > 0 {
		c.recordObservation(agentstate.ObservationToolResult,
			fmt.Sprintf("%d tool(s) never reported completion: %s",
				len(incomplete), toolNames(incomplete)), incomplete[0].ID)
	}
	return succeeded, failed, incomplete, nil
}

// recordObservation appends the observation and mirrors it as a
// reasoning step, emitting both.
func (c *Coordinator) recordObservation(typ agentstate.ObservationType, content, relatedToolID string) {
	m := c.manager
	obs := m.AddObservation(typ, content, relatedToolID, nil)
	c.emitObservation(m.SessionID(), obs)

	step := m.AddReasoningStep(agentstate.PhaseObserve, content, map[string]any{
		"observation_id": obs.ID,
	})
	c.emitStep(m.SessionID(), step)
}

// reflect derives the turn's insight and confidence and computes the
// continuation decision.
func (c *Coordinator) reflect(succeeded, failed, incomplete []agentstate.ToolExecution) (TurnResult, error) {
	m := c.manager
	m.SetPhase(agentstate.PhaseReflect)
	c.emitPhase(m.SessionID(), agentstate.PhaseReflect)

	hasErrors := len(failed) > 0

	var (
		insight          string
		confidence       float64
		learnings        []string
		suggestedActions []string
	)
	switch {
	case hasErrors:
		insight = fmt.Sprintf("Turn hit %d tool failure(s); the approach needs adjustment", len(failed))
		confidence = c.cfg.ErrorConfidence
		for _, exec := range failed {
			learnings = append(learnings,
				fmt.Sprintf("%s failed: %s", exec.Name, exec.Error))
			suggestedActions = append(suggestedActions,
				fmt.Sprintf("Retry %s with adjusted arguments", exec.Name))
		}
	case len(incomplete) > 0:
		insight = fmt.Sprintf("Turn ended with %d tool(s) still incomplete", len(incomplete))
		confidence = c.cfg.NoToolConfidence
		learnings = []string{"Some tool executions never reported completion"}
	case len(succeeded) > 0:
		insight = fmt.Sprintf("All %d tool(s) completed successfully", len(succeeded))
		confidence = c.cfg.SuccessConfidence
		learnings = []string{"The planned approach executed without errors"}
	default:
		insight = "Turn completed without invoking any tools"
		confidence = c.cfg.NoToolConfidence
		learnings = []string{"The request was handled without tool execution"}
	}

	refl := m.AddReflection(insight, learnings, suggestedActions, confidence)
	c.emitReflection(m.SessionID(), refl)

	result := TurnResult{
		ShouldContinue: hasErrors && refl.Confidence < c.cfg.ContinueBelow,
	}
	if result.ShouldContinue && len(suggestedActions) > 0 {
		result.NextAction = suggestedActions[0]
	}
	return result, nil
}

// TrackToolExecution records the start of a tool invocation and returns
// its execution id. Called by the runner's hooks while a turn is in
// flight; does not take the turn lock.
func (c *Coordinator) TrackToolExecution(name string, args json.RawMessage, dependencies []string) string {
	return c.manager.TrackToolStart(name, args, dependencies)
}

// UpdateToolExecution finalizes a tracked tool invocation with a result
// or an error. Unknown ids are tolerated as no-ops.
func (c *Coordinator) UpdateToolExecution(id string, result string, toolErr string) {
	c.manager.TrackToolComplete(id, result, toolErr)
}

// GetState returns a read-only snapshot of the session state.
func (c *Coordinator) GetState() agentstate.SessionState {
	return c.manager.State()
}

// GetSummary returns the session's aggregate counts.
func (c *Coordinator) GetSummary() agentstate.Summary {
	return c.manager.Summary()
}

func (c *Coordinator) emitPhase(sessionID string, phase agentstate.Phase) {
	if c.sink != nil {
		c.sink.PhaseChange(sessionID, phase)
	}
}

func (c *Coordinator) emitStep(sessionID string, step agentstate.ReasoningStep) {
	if c.sink != nil {
		c.sink.ReasoningStep(sessionID, step)
	}
}

func (c *Coordinator) emitObservation(sessionID string, obs agentstate.Observation) {
	if c.sink != nil {
		c.sink.Observation(sessionID, obs)
	}
}

func (c *Coordinator) emitReflection(sessionID string, refl agentstate.Reflection) {
	if c.sink != nil {
		c.sink.Reflection(sessionID, refl)
	}
}

func toolNames(execs []agentstate.ToolExecution) string {
	names := make([]string, len(execs))
	for i, exec := range execs {
		names[i] = exec.Name
	}
	return strings.Join(names, ", ")
}
