package orchestrator

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

// Config controls the cadence and limits of the zero-friction loop.
type Config struct {
	// Interval is the period between automatic cycles while monitoring.
	Interval time.Duration `koanf:"interval"`

	// MaxConcurrentEliminations caps how many eliminations a single cycle
	// may attempt in parallel. Lower-priority points wait for a later cycle.
	MaxConcurrentEliminations int `koanf:"max_concurrent_eliminations"`

	// EscalationThreshold is the number of consecutive failed eliminations
	// in one category that raises an escalation signal.
	EscalationThreshold int `koanf:"escalation_threshold"`

	// ScoreEscalationThreshold raises an escalation when the flow score
	// drops below it.
	ScoreEscalationThreshold float64 `koanf:"score_escalation_threshold"`

	// FlowHistoryLimit bounds the retained flow-state history.
	FlowHistoryLimit int `koanf:"flow_history_limit"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:                  30 * time.Second,
		MaxConcurrentEliminations: 5,
		EscalationThreshold:       3,
		ScoreEscalationThreshold:  0.3,
		FlowHistoryLimit:          256,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MaxConcurrentEliminations < 1 {
		return fmt.Errorf("max_concurrent_eliminations must be at least 1, got %d", c.MaxConcurrentEliminations)
	}
	if c.EscalationThreshold < 1 {
		return fmt.Errorf("escalation_threshold must be at least 1, got %d", c.EscalationThreshold)
	}
	if c.ScoreEscalationThreshold < 0 || c.ScoreEscalationThreshold > 1 {
		return fmt.Errorf("score_escalation_threshold must be in [0,1], got %f", c.ScoreEscalationThreshold)
	}
	if c.FlowHistoryLimit < 1 {
		return fmt.Errorf("flow_history_limit must be at least 1, got %d", c.FlowHistoryLimit)
	}
	return nil
}

// CategoryStats aggregates per-category detection and elimination counts.
type CategoryStats struct {
	Detected   int `json:"detected"`
	Eliminated int `json:"eliminated"`
	Failed     int `json:"failed"`
}

// Stats summarizes the orchestrator's lifetime activity.
type Stats struct {
	TotalDetected   int                                 `json:"total_detected"`
	TotalEliminated int                                 `json:"total_eliminated"`
	EliminationRate float64                             `json:"elimination_rate"`
	PerCategory     map[friction.Category]CategoryStats `json:"per_category"`
	CyclesCompleted int                                 `json:"cycles_completed"`
}
