package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/detector"
	"github.com/fyrsmithlabs/frictiond/internal/escalate"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// RunCycle executes one detect, prioritize, eliminate, score pass and
// returns the resulting flow state. It is safe to call concurrently with
// the monitoring loop; the in-flight guard prevents double elimination.
func (o *Orchestrator) RunCycle(ctx context.Context) (friction.FlowState, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunCycle")
	defer span.End()

	ws, err := o.capturer.Capture(ctx)
	if err != nil {
		return friction.FlowState{}, fmt.Errorf("failed to capture workspace: %w", err)
	}

	points := o.detectAll(ctx, ws)
	o.recordDetections(points)

	selected := o.selectForElimination(points)
	results := o.eliminateAll(ctx, selected)

	signals := o.recordResults(results)

	fs := o.computeFlow()
	if fs.Score < o.cfg.ScoreEscalationThreshold {
		signals = append(signals, escalate.Signal{
			Reason:   escalate.ReasonLowScore,
			Score:    fs.Score,
			RaisedAt: fs.ComputedAt,
		})
	}
	o.dispatch(ctx, signals)

	o.mu.Lock()
	o.stats.CyclesCompleted++
	o.mu.Unlock()

	if o.cycleCounter != nil {
		o.cycleCounter.Add(ctx, 1)
	}
	if o.scoreHistogram != nil {
		o.scoreHistogram.Record(ctx, fs.Score)
	}
	span.SetAttributes(
		attribute.Int("points.detected", len(points)),
		attribute.Int("points.selected", len(selected)),
		attribute.Float64("flow.score", fs.Score),
	)

	o.logger.Debug("cycle complete",
		zap.Int("detected", len(points)),
		zap.Int("eliminated", len(results)),
		zap.Float64("score", fs.Score),
		zap.String("level", string(fs.Level)))

	return fs, nil
}

// detectAll fans detection out across every registered detector and merges
// the results in registration order, deduplicating by point id. The first
// occurrence of an id wins.
func (o *Orchestrator) detectAll(ctx context.Context, ws *workspace.Context) []*friction.Point {
	detectors := o.registry.Detectors()
	batches := make([][]*friction.Point, len(detectors))

	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d detector.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("detector panicked",
						zap.String("category", string(d.Category())),
						zap.Any("panic", r))
					batches[i] = nil
				}
			}()
			batches[i] = d.Detect(ctx, ws)
		}(i, d)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var merged []*friction.Point
	for _, batch := range batches {
		for _, p := range batch {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged
}

// selectForElimination orders points by priority, truncates to the
// concurrency cap, and claims each survivor in the in-flight set. Points
// already in flight from a concurrent cycle are skipped.
func (o *Orchestrator) selectForElimination(points []*friction.Point) []*friction.Point {
	ordered := make([]*friction.Point, len(points))
	copy(ordered, points)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})

	if len(ordered) > o.cfg.MaxConcurrentEliminations {
		ordered = ordered[:o.cfg.MaxConcurrentEliminations]
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var claimed []*friction.Point
	for _, p := range ordered {
		if _, busy := o.inflight[p.ID]; busy {
			continue
		}
		o.inflight[p.ID] = struct{}{}
		claimed = append(claimed, p)
	}
	return claimed
}

// eliminateAll runs eliminations concurrently, one goroutine per claimed
// point, and releases the in-flight claims as each finishes.
func (o *Orchestrator) eliminateAll(ctx context.Context, points []*friction.Point) []*friction.Result {
	if len(points) == 0 {
		return nil
	}

	results := make([]*friction.Result, len(points))
	var wg sync.WaitGroup
	for i, p := range points {
		wg.Add(1)
		go func(i int, p *friction.Point) {
			defer wg.Done()
			defer o.release(p.ID)

			d, err := o.registry.Lookup(p.Category)
			if err != nil {
				o.logger.Error("no detector for point",
					zap.String("point_id", p.ID),
					zap.String("category", string(p.Category)))
				return
			}

			ctx, span := o.tracer.Start(ctx, "orchestrator.Eliminate",
				trace.WithAttributes(
					attribute.String("point.id", p.ID),
					attribute.String("point.category", string(p.Category)),
				))
			defer span.End()

			results[i] = d.Eliminate(ctx, p)
		}(i, p)
	}
	wg.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// recordDetections updates lifetime counts for points entering the
// tracked set. computeFlow prunes the set back to live ids each cycle.
func (o *Orchestrator) recordDetections(points []*friction.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var fresh int64
	for _, p := range points {
		if _, known := o.seen[p.ID]; known {
			continue
		}
		o.seen[p.ID] = struct{}{}
		o.stats.TotalDetected++
		cs := o.stats.PerCategory[p.Category]
		cs.Detected++
		o.stats.PerCategory[p.Category] = cs
		fresh++
	}

	if fresh > 0 && o.detectedCounter != nil {
		o.detectedCounter.Add(context.Background(), fresh)
	}
}

// recordResults folds elimination outcomes into the stats and failure
// streaks, and returns any escalation signals the outcomes raised. A
// category escalates exactly when its consecutive-failure count reaches
// the threshold; a success resets the streak.
func (o *Orchestrator) recordResults(results []*friction.Result) []escalate.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()

	var signals []escalate.Signal
	for _, r := range results {
		cs := o.stats.PerCategory[r.Category]
		if r.Success {
			o.stats.TotalEliminated++
			cs.Eliminated++
			o.failStreaks[r.Category] = 0
			if o.eliminatedCounter != nil {
				o.eliminatedCounter.Add(context.Background(), 1)
			}
		} else {
			cs.Failed++
			o.failStreaks[r.Category]++
			if o.failedCounter != nil {
				o.failedCounter.Add(context.Background(), 1)
			}
			if o.failStreaks[r.Category] == o.cfg.EscalationThreshold {
				signals = append(signals, escalate.Signal{
					Reason:       escalate.ReasonRepeatedFailures,
					Category:     r.Category,
					FailureCount: o.failStreaks[r.Category],
					RaisedAt:     r.CompletedAt,
				})
			}
		}
		o.stats.PerCategory[r.Category] = cs
	}
	return signals
}

// computeFlow derives the flow state from every detector's live set and
// appends it to the bounded history.
func (o *Orchestrator) computeFlow() friction.FlowState {
	var live []*friction.Point
	for _, d := range o.registry.Detectors() {
		live = append(live, d.Live()...)
	}

	now := time.Now()
	fs := friction.ComputeFlowState(live, now)

	o.mu.Lock()
	defer o.mu.Unlock()

	// Detection dedup only needs ids still live; a point that resolves
	// and later recurs counts as a fresh detection.
	liveIDs := make(map[string]struct{}, len(live))
	for _, p := range live {
		liveIDs[p.ID] = struct{}{}
	}
	for id := range o.seen {
		if _, ok := liveIDs[id]; !ok {
			delete(o.seen, id)
		}
	}

	if fs.Level != o.lastLevel || o.levelSince.IsZero() {
		o.lastLevel = fs.Level
		o.levelSince = now
	}
	fs.LevelFor = now.Sub(o.levelSince)

	o.flowHistory = append(o.flowHistory, fs)
	if len(o.flowHistory) > o.cfg.FlowHistoryLimit {
		o.flowHistory = o.flowHistory[len(o.flowHistory)-o.cfg.FlowHistoryLimit:]
	}
	return fs
}

// dispatch delivers signals to every sink. Sink errors are logged; they
// never fail the cycle.
func (o *Orchestrator) dispatch(ctx context.Context, signals []escalate.Signal) {
	for _, sig := range signals {
		for _, sink := range o.sinks {
			if err := sink.Escalate(ctx, sig); err != nil {
				o.logger.Warn("escalation sink failed",
					zap.String("reason", string(sig.Reason)),
					zap.Error(err))
			}
		}
	}
}
