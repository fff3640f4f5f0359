package agentloop

import "strings"

// PlanStep is one planned unit of work the think phase derives from the
// user's message.
type PlanStep struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Classifier turns a user message into an ordered plan. Implementations
// must be deterministic for the same input; the coordinator records one
// reasoning step per returned plan step.
type Classifier interface {
	Classify(message string) []PlanStep
}

// KeywordClassifier is a deterministic keyword-category classifier. It
// matches the message against create/modify/debug/setup vocabularies
// and emits that category's plan; a message matching none falls back to
// a generic analysis plan. Categories are checked in a fixed order and
// a message can contribute several.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a KeywordClassifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

type category struct {
	name     string
	keywords []string
	plan     []string
}

// Order is fixed so classification is deterministic.
var categories = []category{
	{
		name:     "create",
		keywords: []string{"create", "add", "new", "build", "implement", "generate", "write"},
		plan: []string{
			"Identify what needs to be created and where it belongs in the project",
			"Draft the new code and wire it into the existing structure",
			"Verify the addition integrates without breaking existing behavior",
		},
	},
	{
		name:     "modify",
		keywords: []string{"modify", "change", "update", "edit", "refactor", "rename", "improve", "adjust"},
		plan: []string{
			"Locate the code affected by the requested change",
			"Apply the modification while preserving surrounding behavior",
		},
	},
	{
		name:     "debug",
		keywords: []string{"debug", "fix", "error", "bug", "broken", "fail", "crash", "wrong", "issue"},
		plan: []string{
			"Reproduce the reported problem and capture the failure",
			"Trace the failure to its root cause",
			"Apply a fix and confirm the failure no longer occurs",
		},
	},
	{
		name:     "setup",
		keywords: []string{"setup", "install", "configure", "init", "initialize", "deploy", "dependency", "dependencies"},
		plan: []string{
			"Determine the required tools and configuration",
			"Install and configure them in the project",
		},
	},
}

var fallbackPlan = []string{
	"Analyze the request to determine the required work",
	"Carry out the work against the project files",
	"Review the result against the request",
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(message string) []PlanStep {
	lower := strings.ToLower(message)

	var steps []PlanStep
	for _, cat := range categories {
		if !matchesAny(lower, cat.keywords) {
			continue
		}
		for _, desc := range cat.plan {
			steps = append(steps, PlanStep{Category: cat.name, Description: desc})
		}
	}

	if len(steps) == 0 {
		for _, desc := range fallbackPlan {
			steps = append(steps, PlanStep{Category: "general", Description: desc})
		}
	}
	return steps
}

func matchesAny(message string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}
