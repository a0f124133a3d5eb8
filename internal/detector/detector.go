// Package detector defines the friction detector capability contract and
// the shared elimination machinery every concrete detector executes
// through.
//
// Detectors differ only in how they scan (Detect) and how they rank
// candidate strategies; strategy execution with rollback-on-failure lives
// in Base and is never reimplemented per detector.
package detector

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// Detector is the pluggable unit the orchestrator drives. One detector
// owns one category.
type Detector interface {
	// Category returns the friction category this detector owns.
	Category() friction.Category

	// Detect scans the workspace context and returns this category's live
	// friction points. It must not block indefinitely, must not mutate the
	// workspace, and must return an empty slice (never an error) on
	// internal failure; errors are logged, not propagated.
	Detect(ctx context.Context, ws *workspace.Context) []*friction.Point

	// Eliminate builds the best elimination strategy for the point and
	// executes it with rollback on failure. A detector with no viable
	// strategy returns a failed result with a descriptive error rather
	// than panicking or returning nil.
	Eliminate(ctx context.Context, point *friction.Point) *friction.Result

	// Live returns a snapshot of the unresolved friction points this
	// detector currently tracks.
	Live() []*friction.Point

	// History returns a snapshot of the elimination result history,
	// oldest first.
	History() []*friction.Result
}

// Config holds the knobs shared by all detectors.
type Config struct {
	// HistoryLimit caps each detector's result history; older entries are
	// aged out.
	HistoryLimit int

	// StaleAfter purges live points not reproduced by a scan for this
	// long.
	StaleAfter time.Duration

	// RollbackTimeout bounds caller-initiated reversal of a successful
	// fix.
	RollbackTimeout time.Duration

	// AutoFixConfidence is the minimum confidence for a point to be
	// flagged auto-executable in actionable items.
	AutoFixConfidence float64
}

// DefaultConfig returns detector defaults.
func DefaultConfig() *Config {
	return &Config{
		HistoryLimit:      512,
		StaleAfter:        10 * time.Minute,
		RollbackTimeout:   30 * time.Second,
		AutoFixConfidence: 0.8,
	}
}
