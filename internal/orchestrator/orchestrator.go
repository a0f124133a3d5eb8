package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/escalate"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

const instrumentationName = "github.com/fyrsmithlabs/frictiond/internal/orchestrator"

// Capturer produces a fresh workspace snapshot for each detection cycle.
type Capturer interface {
	Capture(ctx context.Context) (*workspace.Context, error)
}

// Orchestrator drives the zero-friction loop over a detector registry.
type Orchestrator struct {
	cfg      *Config
	registry *registry.Registry
	capturer Capturer
	sinks    []escalate.Sink
	logger   *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	cycleCounter      metric.Int64Counter
	detectedCounter   metric.Int64Counter
	eliminatedCounter metric.Int64Counter
	failedCounter     metric.Int64Counter
	scoreHistogram    metric.Float64Histogram

	mu          sync.Mutex
	inflight    map[string]struct{}
	seen        map[string]struct{}
	failStreaks map[friction.Category]int
	stats       Stats
	flowHistory []friction.FlowState
	lastLevel   friction.Level
	levelSince  time.Time

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	trigger chan struct{}
	done    chan struct{}
}

// New creates an orchestrator over the given registry and workspace capturer.
// Sinks receive escalation signals; a nil slice disables escalation delivery.
func New(cfg *Config, reg *registry.Registry, capturer Capturer, sinks []escalate.Sink, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:         cfg,
		registry:    reg,
		capturer:    capturer,
		sinks:       sinks,
		logger:      logger.Named("orchestrator"),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		inflight:    make(map[string]struct{}),
		seen:        make(map[string]struct{}),
		failStreaks: make(map[friction.Category]int),
		stats: Stats{
			PerCategory: make(map[friction.Category]CategoryStats),
		},
		trigger: make(chan struct{}, 1),
	}
	o.initMetrics()

	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.cycleCounter, err = o.meter.Int64Counter("frictiond.orchestrator.cycles",
		metric.WithDescription("Completed detection cycles"))
	if err != nil {
		o.logger.Warn("failed to create cycle counter", zap.Error(err))
	}

	o.detectedCounter, err = o.meter.Int64Counter("frictiond.orchestrator.points.detected",
		metric.WithDescription("Newly detected friction points"))
	if err != nil {
		o.logger.Warn("failed to create detected counter", zap.Error(err))
	}

	o.eliminatedCounter, err = o.meter.Int64Counter("frictiond.orchestrator.points.eliminated",
		metric.WithDescription("Successfully eliminated friction points"))
	if err != nil {
		o.logger.Warn("failed to create eliminated counter", zap.Error(err))
	}

	o.failedCounter, err = o.meter.Int64Counter("frictiond.orchestrator.eliminations.failed",
		metric.WithDescription("Failed elimination attempts"))
	if err != nil {
		o.logger.Warn("failed to create failed counter", zap.Error(err))
	}

	o.scoreHistogram, err = o.meter.Float64Histogram("frictiond.orchestrator.flow.score",
		metric.WithDescription("Flow score per cycle"))
	if err != nil {
		o.logger.Warn("failed to create score histogram", zap.Error(err))
	}
}

// Start launches the monitoring loop. Calling it while already running is
// a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.running {
		o.logger.Debug("monitoring already running")
		return nil
	}
	o.running = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})

	go o.loop(ctx, o.stop, o.done)

	o.logger.Info("monitoring started", zap.Duration("interval", o.cfg.Interval))
	return nil
}

// Stop halts the monitoring loop. An in-progress cycle finishes first.
// Stopping an idle orchestrator is a no-op.
func (o *Orchestrator) Stop() error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if !o.running {
		return nil
	}
	close(o.stop)
	<-o.done
	o.running = false

	o.logger.Info("monitoring stopped")
	return nil
}

// Claim marks a point id as undergoing elimination and reports whether
// the claim was acquired. Callers eliminating outside the cycle loop must
// claim first and Release when done; an id already in flight stays with
// its current owner.
func (o *Orchestrator) Claim(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

// Release drops an in-flight claim.
func (o *Orchestrator) Release(id string) {
	o.release(id)
}

// Running reports whether the monitoring loop is active.
func (o *Orchestrator) Running() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.running
}

// Trigger requests an immediate cycle from the monitoring loop. It is a
// no-op while a trigger is already pending or the loop is not running.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.trigger:
		}

		if _, err := o.RunCycle(ctx); err != nil {
			o.logger.Error("cycle failed", zap.Error(err))
		}
	}
}

// FlowState returns the most recent flow state, or a perfect-score state
// when no cycle has run yet.
func (o *Orchestrator) FlowState() friction.FlowState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.flowHistory) == 0 {
		now := time.Now()
		return friction.FlowState{
			Level:      friction.LevelOptimal,
			Score:      1.0,
			ComputedAt: now,
		}
	}
	return o.flowHistory[len(o.flowHistory)-1]
}

// FlowHistory returns a snapshot of the retained flow states, oldest first.
func (o *Orchestrator) FlowHistory() []friction.FlowState {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]friction.FlowState, len(o.flowHistory))
	copy(out, o.flowHistory)
	return out
}

// Stats returns a snapshot of lifetime detection and elimination counts.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.stats
	out.PerCategory = make(map[friction.Category]CategoryStats, len(o.stats.PerCategory))
	for cat, cs := range o.stats.PerCategory {
		out.PerCategory[cat] = cs
	}
	if out.TotalDetected > 0 {
		out.EliminationRate = float64(out.TotalEliminated) / float64(out.TotalDetected)
	}
	return out
}
