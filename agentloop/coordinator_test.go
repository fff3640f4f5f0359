package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/loopworks/taor/agentstate"
	"github.com/loopworks/taor/llmrunner"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures everything the coordinator emits.
type recordingSink struct {
	mu           sync.Mutex
	phases       []agentstate.Phase
	steps        []agentstate.ReasoningStep
	observations []agentstate.Observation
	reflections  []agentstate.Reflection
}

func (s *recordingSink) PhaseChange(_ string, phase agentstate.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
}

func (s *recordingSink) ReasoningStep(_ string, step agentstate.ReasoningStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *recordingSink) Observation(_ string, obs agentstate.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
}

func (s *recordingSink) Reflection(_ string, refl agentstate.Reflection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflections = append(s.reflections, refl)
}

// scriptedTool is one tool call the fake runner will report. failed
// marks an error result whose content carries no failure text;
// noCompletion suppresses the end callback entirely.
type scriptedTool struct {
	name         string
	result       string
	errMsg       string
	failed       bool
	noCompletion bool
}

// fakeRunner reports its scripted tool calls through the request hooks
// and returns a canned assistant message.
type fakeRunner struct {
	tools []scriptedTool
	err   error
	calls int
}

func (r *fakeRunner) Generate(_ context.Context, req llmrunner.Request) (*llmrunner.Result, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	for _, tool := range r.tools {
		call := llmrunner.ToolCall{ID: "call_" + tool.name, Name: tool.name}
		if req.Hooks.OnToolStart != nil {
			req.Hooks.OnToolStart(call)
		}
		if tool.noCompletion {
			continue
		}
		content := tool.result
		if tool.errMsg != "" {
			content = tool.errMsg
		}
		if req.Hooks.OnToolEnd != nil {
			req.Hooks.OnToolEnd(llmrunner.ToolResult{
				ToolCallID: call.ID,
				Name:       tool.name,
				Content:    content,
				IsError:    tool.errMsg != "" || tool.failed,
			})
		}
	}
	return &llmrunner.Result{
		Message: llmrunner.AssistantMessage("done"),
	}, nil
}

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	m := agentstate.NewManager("session-1", agentstate.Seed{ProjectID: "proj-1"},
		agentstate.WithLogger(quietLogger()))
	opts = append([]CoordinatorOption{WithCoordinatorLogger(quietLogger())}, opts...)
	return NewCoordinator(m, opts...)
}

func TestExecuteTurnPhaseOrder(t *testing.T) {
	sink := &recordingSink{}
	c := newTestCoordinator(t, WithEventSink(sink))

	if _, err := c.ExecuteTurn(context.Background(), "create a widget"); err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}

	want := []agentstate.Phase{
		agentstate.PhaseThink,
		agentstate.PhaseAct,
		agentstate.PhaseObserve,
		agentstate.PhaseReflect,
	}
	if len(sink.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", sink.phases, want)
	}
	for i, phase := range want {
		if sink.phases[i] != phase {
			t.Errorf("phase[%d] = %s, want %s", i, sink.phases[i], phase)
		}
	}

	state := c.GetState()
	if state.IsActive {
		t.Error("session still active after turn")
	}
	if state.CurrentPhase != agentstate.PhaseReflect {
		t.Errorf("final phase = %s", state.CurrentPhase)
	}
}

func TestExecuteTurnAllToolsSucceed(t *testing.T) {
	runner := &fakeRunner{tools: []scriptedTool{
		{name: "write_file", result: "written"},
		{name: "read_file", result: "contents"},
	}}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "create a widget")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if result.ShouldContinue {
		t.Error("all-success turn should not continue")
	}

	state := c.GetState()
	if len(state.Reflections) != 1 {
		t.Fatalf("reflections = %d, want 1", len(state.Reflections))
	}
	if conf := state.Reflections[0].Confidence; conf < 0.8 {
		t.Errorf("confidence = %v, want >= 0.8", conf)
	}

	summary := c.GetSummary()
	if summary.ToolSuccesses != 2 || summary.ToolFailures != 0 {
		t.Errorf("successes=%d failures=%d", summary.ToolSuccesses, summary.ToolFailures)
	}
}

func TestExecuteTurnToolErrorContinues(t *testing.T) {
	runner := &fakeRunner{tools: []scriptedTool{
		{name: "write_file", result: "written"},
		{name: "run_tests", errMsg: "3 tests failed"},
	}}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "fix the tests")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if !result.ShouldContinue {
		t.Error("turn with tool errors should continue")
	}
	if result.NextAction == "" {
		t.Error("NextAction empty on continuing turn")
	}

	state := c.GetState()
	refl := state.Reflections[0]
	if refl.Confidence >= 0.5 {
		t.Errorf("confidence = %v, want < 0.5", refl.Confidence)
	}
	if len(refl.SuggestedActions) == 0 {
		t.Error("suggested actions empty after tool errors")
	}

	// One observation per non-empty partition.
	var successObs, errorObs int
	for _, obs := range state.Observations {
		switch obs.Type {
		case agentstate.ObservationSuccess:
			successObs++
		case agentstate.ObservationError:
			errorObs++
		}
	}
	if successObs != 1 || errorObs != 1 {
		t.Errorf("success obs=%d error obs=%d, want 1 and 1", successObs, errorObs)
	}
}

func TestExecuteTurnErrorWithoutContentStaysError(t *testing.T) {
	// An error result may carry no failure text at all; it must still
	// land as a failed execution and drive the continuation decision.
	runner := &fakeRunner{tools: []scriptedTool{
		{name: "run_tests", failed: true},
	}}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "fix the tests")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if !result.ShouldContinue {
		t.Error("turn with a failed tool should continue")
	}

	state := c.GetState()
	if len(state.Tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(state.Tools))
	}
	exec := state.Tools[0]
	if exec.Status != agentstate.ToolError {
		t.Errorf("tool status = %s, want error", exec.Status)
	}
	if exec.Error == "" {
		t.Error("failed tool recorded with empty error string")
	}
	if conf := state.Reflections[0].Confidence; conf != 0.3 {
		t.Errorf("confidence = %v, want 0.3", conf)
	}
}

// rawResultRunner reports a tool result parsed from a provider payload,
// the way a streaming adapter would.
type rawResultRunner struct {
	payload string
}

func (r *rawResultRunner) Generate(_ context.Context, req llmrunner.Request) (*llmrunner.Result, error) {
	call := llmrunner.ToolCall{ID: "tc_1", Name: "run_tests"}
	if req.Hooks.OnToolStart != nil {
		req.Hooks.OnToolStart(call)
	}
	res, err := llmrunner.NormalizeToolResult(json.RawMessage(r.payload))
	if err != nil {
		return nil, err
	}
	if req.Hooks.OnToolEnd != nil {
		req.Hooks.OnToolEnd(res)
	}
	return &llmrunner.Result{Message: llmrunner.AssistantMessage("done")}, nil
}

func TestExecuteTurnProviderErrorFieldDrivesContinuation(t *testing.T) {
	runner := &rawResultRunner{payload: `{"toolCallId":"tc_1","error":"tests failed"}`}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "fix the tests")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if !result.ShouldContinue {
		t.Error("failed tool should force a continuation")
	}

	state := c.GetState()
	exec := state.Tools[0]
	if exec.Status != agentstate.ToolError {
		t.Errorf("tool status = %s, want error", exec.Status)
	}
	if exec.Error != "tests failed" {
		t.Errorf("tool error = %q, want the provider's failure text", exec.Error)
	}
	if conf := state.Reflections[0].Confidence; conf != 0.3 {
		t.Errorf("confidence = %v, want 0.3", conf)
	}
}

func TestExecuteTurnIncompleteTools(t *testing.T) {
	runner := &fakeRunner{tools: []scriptedTool{
		{name: "run_build", noCompletion: true},
	}}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "build it")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if result.ShouldContinue {
		t.Error("incomplete-tool turn should not continue")
	}

	state := c.GetState()
	var toolResultObs []agentstate.Observation
	for _, obs := range state.Observations {
		if obs.Type == agentstate.ObservationToolResult {
			toolResultObs = append(toolResultObs, obs)
		}
	}
	if len(toolResultObs) != 1 {
		t.Fatalf("tool-result observations = %d, want 1", len(toolResultObs))
	}
	if !strings.Contains(toolResultObs[0].Content, "never reported completion") {
		t.Errorf("observation content = %q", toolResultObs[0].Content)
	}

	refl := state.Reflections[0]
	if strings.Contains(refl.Insight, "without invoking any tools") {
		t.Errorf("insight claims no tools ran: %q", refl.Insight)
	}
	if refl.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", refl.Confidence)
	}
}

func TestExecuteTurnNoTools(t *testing.T) {
	c := newTestCoordinator(t)

	result, err := c.ExecuteTurn(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	if result.ShouldContinue {
		t.Error("no-tool turn should not continue")
	}

	state := c.GetState()
	var toolResultObs int
	for _, obs := range state.Observations {
		if obs.Type == agentstate.ObservationToolResult {
			toolResultObs++
		}
	}
	if toolResultObs != 1 {
		t.Errorf("tool-result observations = %d, want exactly 1", toolResultObs)
	}
	if conf := state.Reflections[0].Confidence; conf != 0.7 {
		t.Errorf("confidence = %v, want 0.7", conf)
	}
}

func TestExecuteTurnRunnerFailureStopsTurn(t *testing.T) {
	runner := &fakeRunner{err: errors.New("model unavailable")}
	c := newTestCoordinator(t, WithRunner(runner))

	result, err := c.ExecuteTurn(context.Background(), "create a widget")
	if err != nil {
		t.Fatalf("turn-level failure must not escape as error, got: %v", err)
	}
	if result.ShouldContinue {
		t.Error("failed turn should not continue")
	}

	state := c.GetState()
	if state.IsActive {
		t.Error("session still active after failed turn")
	}
	var errorObs int
	for _, obs := range state.Observations {
		if obs.Type == agentstate.ObservationError {
			errorObs++
		}
	}
	if errorObs != 1 {
		t.Errorf("error observations = %d, want 1", errorObs)
	}
}

func TestExecuteTurnSequentialTurnsIncrement(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := c.ExecuteTurn(ctx, "hello"); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		if got := c.GetState().TurnCount; got != i {
			t.Errorf("turn count after turn %d = %d", i, got)
		}
	}
}

func TestExecuteTurnAppendsConversation(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCoordinator(t, WithRunner(runner))

	if _, err := c.ExecuteTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}

	history := c.GetState().ConversationHistory
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != llmrunner.RoleUser || history[1].Role != llmrunner.RoleAssistant {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestExecuteTurnConfigurableThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorConfidence = 0.6
	cfg.ContinueBelow = 0.5

	runner := &fakeRunner{tools: []scriptedTool{
		{name: "run_tests", errMsg: "failed"},
	}}
	c := newTestCoordinator(t, WithRunner(runner), WithConfig(cfg))

	result, err := c.ExecuteTurn(context.Background(), "fix it")
	if err != nil {
		t.Fatalf("ExecuteTurn failed: %v", err)
	}
	// Error confidence raised above the cutoff: no continuation.
	if result.ShouldContinue {
		t.Error("expected no continuation with raised error confidence")
	}
}

func TestTrackToolExecutionDuringTurn(t *testing.T) {
	c := newTestCoordinator(t)

	id := c.TrackToolExecution("manual_tool", nil, nil)
	if id == "" {
		t.Fatal("empty execution id")
	}
	c.UpdateToolExecution(id, "ok", "")

	// Unknown id is a tolerated no-op.
	c.UpdateToolExecution("missing", "ok", "")

	summary := c.GetSummary()
	if summary.ToolSuccesses != 1 {
		t.Errorf("successes = %d, want 1", summary.ToolSuccesses)
	}
}
