package agentloop

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the loop's tunable heuristics and housekeeping settings.
// The confidence values and the continue cutoff are heuristics with no
// derivation behind them; they are configuration, not constants, so a
// deployment can tune them per workload.
type Config struct {
	// SuccessConfidence is recorded when every tracked tool succeeded.
	SuccessConfidence float64 `env:"AGENTLOOP_SUCCESS_CONFIDENCE" envDefault:"0.9"`

	// ErrorConfidence is recorded when any tracked tool failed.
	ErrorConfidence float64 `env:"AGENTLOOP_ERROR_CONFIDENCE" envDefault:"0.3"`

	// NoToolConfidence is recorded when the turn invoked no tools.
	NoToolConfidence float64 `env:"AGENTLOOP_NO_TOOL_CONFIDENCE" envDefault:"0.7"`

	// ContinueBelow: a turn with tool errors continues only while its
	// confidence is below this cutoff.
	ContinueBelow float64 `env:"AGENTLOOP_CONTINUE_BELOW" envDefault:"0.5"`

	// StateTTL is the expiration applied to persisted session state.
	StateTTL time.Duration `env:"AGENTLOOP_STATE_TTL" envDefault:"1h"`

	// StalenessWindow is how long an inactive session may go without an
	// update before the sweeper removes it.
	StalenessWindow time.Duration `env:"AGENTLOOP_STALENESS_WINDOW" envDefault:"30m"`

	// SweepSchedule is the sweeper's cron schedule.
	SweepSchedule string `env:"AGENTLOOP_SWEEP_SCHEDULE" envDefault:"@every 5m"`

	// KeyPrefix namespaces session keys in the shared store.
	KeyPrefix string `env:"AGENTLOOP_KEY_PREFIX" envDefault:"agent-loop"`

	// EventBuffer is the emitter's channel buffer size.
	EventBuffer int `env:"AGENTLOOP_EVENT_BUFFER" envDefault:"256"`
}

// DefaultConfig returns the built-in defaults without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		SuccessConfidence: 0.9,
		ErrorConfidence:   0.3,
		NoToolConfidence:  0.7,
		ContinueBelow:     0.5,
		StateTTL:          time.Hour,
		StalenessWindow:   30 * time.Minute,
		SweepSchedule:     "@every 5m",
		KeyPrefix:         "agent-loop",
		EventBuffer:       256,
	}
}

// ConfigFromEnv builds a Config from AGENTLOOP_* environment variables,
// falling back to the defaults for unset values.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse agentloop config: %w", err)
	}
	return cfg, nil
}
