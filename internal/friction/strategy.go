package friction

import (
	"context"
	"time"
)

// StrategyType names the kind of fix a strategy applies.
type StrategyType string

const (
	StrategyAutoCorrection      StrategyType = "AUTO_CORRECTION"
	StrategyTransformation      StrategyType = "TRANSFORMATION"
	StrategyConfigurationChange StrategyType = "CONFIGURATION_CHANGE"
	StrategyInstallation        StrategyType = "INSTALLATION"
)

// RiskTier orders strategies by how dangerous they are to apply. Lower is
// safer and wins confidence ties.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
)

func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// StepFunc is a single strategy operation. All three callbacks of a Step
// receive the caller's context so they can be cancelled.
type StepFunc func(ctx context.Context) error

// Step is one (action, rollback, validation) triple. Steps execute in
// order; a failing validation rolls back every previously applied step in
// reverse order.
type Step struct {
	Name     string
	Action   StepFunc
	Rollback StepFunc
	Validate StepFunc
}

// Strategy is a named, typed plan for eliminating a friction point.
type Strategy struct {
	Name       string       `json:"name"`
	Type       StrategyType `json:"type"`
	Confidence float64      `json:"confidence"`
	Risk       RiskTier     `json:"risk"`
	Steps      []Step       `json:"-"`
}

// RollbackPlan is the frozen undo list of a successful strategy execution,
// newest step first. Revert drains it within the given timeout; individual
// rollback failures are collected, not fatal to the drain.
type RollbackPlan struct {
	Undo []StepFunc `json:"-"`
}

// Revert replays the undo list newest-first. It returns the first error
// encountered but always attempts every step.
func (r *RollbackPlan) Revert(ctx context.Context, timeout time.Duration) error {
	if r == nil || len(r.Undo) == 0 {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var first error
	for _, undo := range r.Undo {
		if err := undo(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Result is the outcome of one strategy execution against one point.
// Results accumulate in an append-only per-detector history; they are never
// deleted, only aged out by caller policy.
type Result struct {
	ID           string        `json:"id"`
	PointID      string        `json:"point_id"`
	Category     Category      `json:"category"`
	Success      bool          `json:"success"`
	StrategyName string        `json:"strategy_name,omitempty"`
	StrategyType StrategyType  `json:"strategy_type,omitempty"`
	Duration     time.Duration `json:"duration"`
	Rollback     *RollbackPlan `json:"-"`
	Error        string        `json:"error,omitempty"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// SelectStrategy picks the single best candidate: highest confidence first,
// ties broken by lower risk tier, then by declaration order. Returns nil
// when no candidates exist.
func SelectStrategy(candidates []Strategy) *Strategy {
	if len(candidates) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		c := candidates[i]
		if c.Confidence > candidates[best].Confidence {
			best = i
			continue
		}
		if c.Confidence == candidates[best].Confidence && c.Risk < candidates[best].Risk {
			best = i
		}
	}
	return &candidates[best]
}
