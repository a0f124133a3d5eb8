package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

const instrumentationName = "github.com/fyrsmithlabs/frictiond/internal/detector"

// ErrNoStrategy is wrapped into failed results when a detector has no
// viable fix for a point.
var ErrNoStrategy = errors.New("no viable elimination strategy")

// Base carries the state and machinery shared by every detector: the live
// friction set, the append-only result history, and strategy execution
// with rollback.
type Base struct {
	category friction.Category
	cfg      *Config
	logger   *zap.Logger
	tracer   trace.Tracer

	mu      sync.RWMutex
	live    map[string]*friction.Point // keyed by IdentityKey
	history []*friction.Result
}

// NewBase creates the shared detector core for one category.
func NewBase(category friction.Category, cfg *Config, logger *zap.Logger) *Base {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		category: category,
		cfg:      cfg,
		logger:   logger.Named(string(category)),
		tracer:   otel.Tracer(instrumentationName),
		live:     make(map[string]*friction.Point),
	}
}

// Category returns the owned category.
func (b *Base) Category() friction.Category { return b.category }

// Logger exposes the named logger to embedding detectors.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Tracer exposes the package tracer to embedding detectors.
func (b *Base) Tracer() trace.Tracer { return b.tracer }

// Config exposes the shared detector configuration.
func (b *Base) Config() *Config { return b.cfg }

// Reconcile merges freshly scanned candidates into the live set and
// returns the resulting live points.
//
// Identity is category+location: a candidate matching a live point reuses
// that point (and its id), bumping recurrence and last-seen. Live points
// not reproduced by this scan are implicitly resolved, and points unseen
// past StaleAfter are purged.
func (b *Base) Reconcile(candidates []*friction.Point, now time.Time) []*friction.Point {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		key := cand.IdentityKey()
		seen[key] = true
		if existing, ok := b.live[key]; ok && !existing.Resolved {
			existing.Metadata.Recurrence++
			existing.LastSeenAt = now
			existing.Severity = cand.Severity
			existing.Impact = cand.Impact
			existing.Description = cand.Description
			continue
		}
		cand.ID = friction.NewPointID(cand.Category, cand.Location, now)
		cand.DetectedAt = now
		cand.LastSeenAt = now
		b.live[key] = cand
	}

	for key, p := range b.live {
		if seen[key] {
			continue
		}
		if !p.Resolved {
			// Not reproduced by this scan: resolved out from under us.
			p.Resolved = true
			p.ResolvedAt = now
			b.logger.Debug("friction point implicitly resolved", zap.String("id", p.ID))
		}
		if now.Sub(p.LastSeenAt) > b.cfg.StaleAfter {
			delete(b.live, key)
		}
	}

	return b.snapshotLiveLocked()
}

// Live returns a stable-ordered snapshot of unresolved points.
func (b *Base) Live() []*friction.Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLiveLocked()
}

func (b *Base) snapshotLiveLocked() []*friction.Point {
	points := make([]*friction.Point, 0, len(b.live))
	for _, p := range b.live {
		if !p.Resolved {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points
}

// LookupLive returns the live point with the given id.
func (b *Base) LookupLive(id string) *friction.Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.live {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// History returns a snapshot of the result history, oldest first.
func (b *Base) History() []*friction.Result {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*friction.Result, len(b.history))
	copy(out, b.history)
	return out
}

// Execute runs the chosen strategy against the point with rollback on
// failure, records the result in the history, and updates the point's
// attempt log. This is the single shared execution path for all
// detectors.
//
// For each step in order: run the action, push its rollback onto the undo
// list, then run its validation. A failed validation (or any error)
// drains the undo list newest-first; individual rollback failures are
// logged and swallowed so the drain always completes. On full success the
// frozen undo list is attached to the result as its rollback plan.
func (b *Base) Execute(ctx context.Context, point *friction.Point, strategy *friction.Strategy) *friction.Result {
	ctx, span := b.tracer.Start(ctx, "detector.execute",
		trace.WithAttributes(
			attribute.String("category", string(b.category)),
			attribute.String("point_id", point.ID),
			attribute.String("strategy", strategy.Name),
		))
	defer span.End()

	start := time.Now()
	var undo []friction.StepFunc

	fail := func(cause error) *friction.Result {
		for i := len(undo) - 1; i >= 0; i-- {
			if rbErr := undo[i](ctx); rbErr != nil {
				b.logger.Warn("rollback step failed",
					zap.String("point_id", point.ID),
					zap.String("strategy", strategy.Name),
					zap.Error(rbErr),
				)
			}
		}
		span.RecordError(cause)
		return b.record(point, &friction.Result{
			ID:           uuid.New().String(),
			PointID:      point.ID,
			Category:     b.category,
			Success:      false,
			StrategyName: strategy.Name,
			StrategyType: strategy.Type,
			Duration:     time.Since(start),
			Error:        cause.Error(),
			CompletedAt:  time.Now(),
		})
	}

	for _, step := range strategy.Steps {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("step %q: %w", step.Name, err))
		}
		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				return fail(fmt.Errorf("step %q action: %w", step.Name, err))
			}
		}
		if step.Rollback != nil {
			undo = append(undo, step.Rollback)
		}
		if step.Validate != nil {
			if err := step.Validate(ctx); err != nil {
				return fail(fmt.Errorf("step %q validation: %w", step.Name, err))
			}
		}
	}

	// Freeze the undo list newest-first as the result's rollback plan.
	plan := &friction.RollbackPlan{Undo: make([]friction.StepFunc, 0, len(undo))}
	for i := len(undo) - 1; i >= 0; i-- {
		plan.Undo = append(plan.Undo, undo[i])
	}

	b.markResolved(point)
	return b.record(point, &friction.Result{
		ID:           uuid.New().String(),
		PointID:      point.ID,
		Category:     b.category,
		Success:      true,
		StrategyName: strategy.Name,
		StrategyType: strategy.Type,
		Duration:     time.Since(start),
		Rollback:     plan,
		CompletedAt:  time.Now(),
	})
}

// Failed produces and records a failed result without executing anything,
// for points a detector cannot fix.
func (b *Base) Failed(point *friction.Point, cause error) *friction.Result {
	return b.record(point, &friction.Result{
		ID:          uuid.New().String(),
		PointID:     point.ID,
		Category:    b.category,
		Success:     false,
		Error:       cause.Error(),
		CompletedAt: time.Now(),
	})
}

// Revert replays a successful result's rollback plan within the
// configured timeout.
func (b *Base) Revert(ctx context.Context, result *friction.Result) error {
	if result == nil || result.Rollback == nil {
		return errors.New("result carries no rollback plan")
	}
	return result.Rollback.Revert(ctx, b.cfg.RollbackTimeout)
}

func (b *Base) markResolved(point *friction.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.live[point.IdentityKey()]; ok {
		p.Resolved = true
		p.ResolvedAt = time.Now()
	}
	point.Resolved = true
	point.ResolvedAt = time.Now()
}

// record appends to the append-only history, ages out the oldest entries
// past the limit, and updates the point's attempt log.
func (b *Base) record(point *friction.Point, result *friction.Result) *friction.Result {
	b.mu.Lock()
	b.history = append(b.history, result)
	if limit := b.cfg.HistoryLimit; limit > 0 && len(b.history) > limit {
		b.history = b.history[len(b.history)-limit:]
	}
	b.mu.Unlock()

	point.RecordAttempt(result.StrategyName, result.Success, result.Error)

	if result.Success {
		b.logger.Info("friction eliminated",
			zap.String("point_id", point.ID),
			zap.String("strategy", result.StrategyName),
			zap.Duration("duration", result.Duration),
		)
	} else {
		b.logger.Warn("elimination failed",
			zap.String("point_id", point.ID),
			zap.String("strategy", result.StrategyName),
			zap.String("error", result.Error),
		)
	}
	return result
}
