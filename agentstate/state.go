package agentstate

import (
	"encoding/json"
	"time"

	"github.com/loopworks/taor/llmrunner"
)

// Phase is the coordinator's position within a turn.
type Phase string

const (
	PhaseThink   Phase = "think"
	PhaseAct     Phase = "act"
	PhaseObserve Phase = "observe"
	PhaseReflect Phase = "reflect"
)

// ToolStatus is the lifecycle state of a tracked tool execution.
// Status only ever moves forward: pending -> running -> success|error.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Terminal reports whether the status is final.
func (s ToolStatus) Terminal() bool {
	return s == ToolSuccess || s == ToolError
}

// ObservationType categorizes what the system noticed after acting.
type ObservationType string

const (
	ObservationToolResult   ObservationType = "tool-result"
	ObservationUserFeedback ObservationType = "user-feedback"
	ObservationError        ObservationType = "error"
	ObservationSuccess      ObservationType = "success"
)

// ReasoningStep is one unit of the agent's stated intent during a phase.
// Append-only; never mutated after creation.
type ReasoningStep struct {
	ID        string         `json:"id"`
	Phase     Phase          `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolExecution tracks one tool invocation, including dependency ids
// that must complete successfully before it is considered ready.
type ToolExecution struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Status       ToolStatus      `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Observation is an append-only record of something the system noticed
// after acting.
type Observation struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          ObservationType `json:"type"`
	Content       string          `json:"content"`
	RelatedToolID string          `json:"related_tool_id,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// Reflection is the per-turn synthesis the continuation decision is
// based on. Confidence is clamped to [0,1] on write.
type Reflection struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Insight          string    `json:"insight"`
	Learnings        []string  `json:"learnings"`
	SuggestedActions []string  `json:"suggested_actions,omitempty"`
	Confidence       float64   `json:"confidence"`
}

// SessionState is the full reasoning history of one session. It is owned
// by the session's coordinator and mutated only through Manager
// operations.
type SessionState struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	CurrentPhase Phase `json:"current_phase"`
	IsActive     bool  `json:"is_active"`
	TurnCount    int   `json:"turn_count"`

	Steps        []ReasoningStep `json:"steps"`
	Tools        []ToolExecution `json:"tools"`
	Observations []Observation   `json:"observations"`
	Reflections  []Reflection    `json:"reflections"`

	ConversationHistory []llmrunner.Message `json:"conversation_history,omitempty"`
	ProjectFiles        map[string]string   `json:"project_files,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Seed carries the optional initial data for a new session.
type Seed struct {
	ProjectID           string
	UserID              string
	ProjectFiles        map[string]string
	ConversationHistory []llmrunner.Message
}

// Summary is the aggregate view of a session for external reporting.
type Summary struct {
	SessionID        string `json:"session_id"`
	CurrentPhase     Phase  `json:"current_phase"`
	IsActive         bool   `json:"is_active"`
	TurnCount        int    `json:"turn_count"`
	StepCount        int    `json:"step_count"`
	ToolCount        int    `json:"tool_count"`
	ToolSuccesses    int    `json:"tool_successes"`
	ToolFailures     int    `json:"tool_failures"`
	ObservationCount int    `json:"observation_count"`
	ReflectionCount  int    `json:"reflection_count"`
}

// clone returns a deep copy of the state so callers cannot mutate the
// manager's copy through returned slices and maps.
func (s SessionState) clone() SessionState {
	out := s

	out.Steps = make([]ReasoningStep, len(s.Steps))
	copy(out.Steps, s.Steps)
	for i, step := range out.Steps {
		out.Steps[i].Metadata = cloneMetadata(step.Metadata)
	}

	out.Tools = make([]ToolExecution, len(s.Tools))
	copy(out.Tools, s.Tools)
	for i, tool := range out.Tools {
		if tool.Dependencies != nil {
			deps := make([]string, len(tool.Dependencies))
			copy(deps, tool.Dependencies)
			out.Tools[i].Dependencies = deps
		}
		if tool.CompletedAt != nil {
			completed := *tool.CompletedAt
			out.Tools[i].CompletedAt = &completed
		}
	}

	out.Observations = make([]Observation, len(s.Observations))
	copy(out.Observations, s.Observations)
	for i, obs := range out.Observations {
		out.Observations[i].Metadata = cloneMetadata(obs.Metadata)
	}

	out.Reflections = make([]Reflection, len(s.Reflections))
	copy(out.Reflections, s.Reflections)
	for i, refl := range out.Reflections {
		if refl.Learnings != nil {
			learnings := make([]string, len(refl.Learnings))
			copy(learnings, refl.Learnings)
			out.Reflections[i].Learnings = learnings
		}
		if refl.SuggestedActions != nil {
			actions := make([]string, len(refl.SuggestedActions))
			copy(actions, refl.SuggestedActions)
			out.Reflections[i].SuggestedActions = actions
		}
	}

	if s.ConversationHistory != nil {
		out.ConversationHistory = make([]llmrunner.Message, len(s.ConversationHistory))
		copy(out.ConversationHistory, s.ConversationHistory)
	}
	if s.ProjectFiles != nil {
		out.ProjectFiles = make(map[string]string, len(s.ProjectFiles))
		for k, v := range s.ProjectFiles {
			out.ProjectFiles[k] = v
		}
	}

	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
