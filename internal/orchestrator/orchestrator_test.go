package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/escalate"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

type fakeCapturer struct{}

func (fakeCapturer) Capture(ctx context.Context) (*workspace.Context, error) {
	return &workspace.Context{Root: "/workspace", CapturedAt: time.Now()}, nil
}

// fakeDetector serves scripted points and records every elimination call.
type fakeDetector struct {
	mu       sync.Mutex
	category friction.Category
	points   []*friction.Point
	failAll  bool

	calls []string

	// blockStarted/blockRelease let a test hold an elimination open.
	blockStarted chan struct{}
	blockRelease chan struct{}
}

func (f *fakeDetector) Category() friction.Category { return f.category }

func (f *fakeDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*friction.Point, 0, len(f.points))
	for _, p := range f.points {
		if !p.Resolved {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeDetector) Eliminate(ctx context.Context, point *friction.Point) *friction.Result {
	f.mu.Lock()
	f.calls = append(f.calls, point.ID)
	started := f.blockStarted
	release := f.blockRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}

	res := &friction.Result{
		ID:          "res-" + point.ID,
		PointID:     point.ID,
		Category:    point.Category,
		CompletedAt: time.Now(),
	}
	if f.failAll {
		res.Error = "elimination rejected"
		return res
	}

	f.mu.Lock()
	for _, p := range f.points {
		if p.ID == point.ID {
			p.Resolved = true
		}
	}
	f.mu.Unlock()

	res.Success = true
	return res
}

func (f *fakeDetector) Live() []*friction.Point {
	return f.Detect(context.Background(), nil)
}

func (f *fakeDetector) History() []*friction.Result { return nil }

func (f *fakeDetector) eliminations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type captureSink struct {
	mu      sync.Mutex
	signals []escalate.Signal
}

func (s *captureSink) Escalate(ctx context.Context, sig escalate.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *captureSink) captured() []escalate.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escalate.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

func testPoint(cat friction.Category, file string, line int, sev friction.Severity, blocking float64) *friction.Point {
	loc := &friction.Location{File: file, Line: line, Column: 1}
	now := time.Now()
	return &friction.Point{
		ID:          friction.NewPointID(cat, loc, now),
		Category:    cat,
		Severity:    sev,
		Description: "test friction",
		Location:    loc,
		Impact: friction.Impact{
			FlowDisruption:    0.2,
			BlockingPotential: blocking,
		},
		DetectedAt: now,
		LastSeenAt: now,
	}
}

func newTestOrchestrator(t *testing.T, cfg *Config, sinks []escalate.Sink, dets ...*fakeDetector) (*Orchestrator, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	for _, d := range dets {
		require.NoError(t, reg.Register(d))
	}

	o, err := New(cfg, reg, fakeCapturer{}, sinks, zap.NewNop())
	require.NoError(t, err)
	return o, reg
}

func TestNew_Validation(t *testing.T) {
	reg := registry.New()

	_, err := New(nil, nil, fakeCapturer{}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = New(nil, reg, nil, nil, zap.NewNop())
	assert.Error(t, err)

	o, err := New(nil, reg, fakeCapturer{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxConcurrentEliminations, o.cfg.MaxConcurrentEliminations)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.MaxConcurrentEliminations = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.ScoreEscalationThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Interval = 0
	assert.Error(t, bad.Validate())
}

func TestRunCycle_ConcurrencyCap(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	for i := 0; i < 10; i++ {
		det.points = append(det.points, testPoint(friction.CategorySyntax, fmt.Sprintf("src/f%d.ts", i), i+1, friction.SeverityHigh, 0.5))
	}

	cfg := DefaultConfig()
	cfg.MaxConcurrentEliminations = 5
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, det.eliminations(), 5, "one cycle must not exceed the elimination cap")

	// The survivors are picked up by the next cycle.
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, det.eliminations(), 10)

	stats := o.Stats()
	assert.Equal(t, 10, stats.TotalDetected)
	assert.Equal(t, 10, stats.TotalEliminated)
	assert.InDelta(t, 1.0, stats.EliminationRate, 1e-9)
	assert.Equal(t, 2, stats.CyclesCompleted)
}

func TestRunCycle_PriorityOrder(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	low := testPoint(friction.CategorySyntax, "src/low.ts", 1, friction.SeverityLow, 0.0)
	high := testPoint(friction.CategorySyntax, "src/high.ts", 1, friction.SeverityBlocking, 0.9)
	mid := testPoint(friction.CategorySyntax, "src/mid.ts", 1, friction.SeverityMedium, 0.3)
	det.points = []*friction.Point{low, high, mid}

	cfg := DefaultConfig()
	cfg.MaxConcurrentEliminations = 1
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	calls := det.eliminations()
	require.Len(t, calls, 1)
	assert.Equal(t, high.ID, calls[0], "highest severity+blocking point goes first")
}

func TestRunCycle_NoDoubleElimination(t *testing.T) {
	det := &fakeDetector{
		category:     friction.CategoryDependency,
		blockStarted: make(chan struct{}, 1),
		blockRelease: make(chan struct{}),
	}
	det.points = []*friction.Point{testPoint(friction.CategoryDependency, "src/app.ts", 3, friction.SeverityHigh, 0.9)}

	o, _ := newTestOrchestrator(t, DefaultConfig(), nil, det)

	first := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		first <- err
	}()

	// Wait for the first cycle's elimination to be in flight, then run a
	// second cycle: the guard must keep it from re-eliminating the point.
	<-det.blockStarted
	det.mu.Lock()
	det.blockStarted = nil
	det.mu.Unlock()

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, det.eliminations(), 1, "in-flight point must not be eliminated twice")

	close(det.blockRelease)
	require.NoError(t, <-first)
	assert.Len(t, det.eliminations(), 1)
}

func TestRunCycle_EscalatesOnThirdConsecutiveFailure(t *testing.T) {
	det := &fakeDetector{category: friction.CategoryConfiguration, failAll: true}
	det.points = []*friction.Point{testPoint(friction.CategoryConfiguration, ".env", 1, friction.SeverityHigh, 0.5)}

	sink := &captureSink{}
	cfg := DefaultConfig()
	cfg.EscalationThreshold = 3
	cfg.ScoreEscalationThreshold = 0 // keep low-score signals out of the way
	o, _ := newTestOrchestrator(t, cfg, []escalate.Sink{sink}, det)

	for i := 0; i < 2; i++ {
		_, err := o.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Empty(t, sink.captured(), "no escalation before the threshold")

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	signals := sink.captured()
	require.Len(t, signals, 1)
	assert.Equal(t, escalate.ReasonRepeatedFailures, signals[0].Reason)
	assert.Equal(t, friction.CategoryConfiguration, signals[0].Category)
	assert.Equal(t, 3, signals[0].FailureCount)

	// A fourth failure extends the streak without re-signalling.
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, sink.captured(), 1)
}

func TestRunCycle_SuccessResetsFailureStreak(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax, failAll: true}
	det.points = []*friction.Point{testPoint(friction.CategorySyntax, "src/a.ts", 1, friction.SeverityHigh, 0.5)}

	sink := &captureSink{}
	cfg := DefaultConfig()
	cfg.ScoreEscalationThreshold = 0
	o, _ := newTestOrchestrator(t, cfg, []escalate.Sink{sink}, det)

	for i := 0; i < 2; i++ {
		_, err := o.RunCycle(context.Background())
		require.NoError(t, err)
	}

	det.mu.Lock()
	det.failAll = false
	det.mu.Unlock()
	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	// Streak was reset, so two more failures stay below the threshold.
	det.mu.Lock()
	det.failAll = true
	det.points = []*friction.Point{testPoint(friction.CategorySyntax, "src/b.ts", 1, friction.SeverityHigh, 0.5)}
	det.mu.Unlock()
	for i := 0; i < 2; i++ {
		_, err := o.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Empty(t, sink.captured())
}

func TestRunCycle_LowScoreEscalation(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax, failAll: true}
	for i := 0; i < 6; i++ {
		p := testPoint(friction.CategorySyntax, fmt.Sprintf("src/f%d.ts", i), 1, friction.SeverityBlocking, 0.9)
		p.Impact.FlowDisruption = 1.0
		det.points = append(det.points, p)
	}

	sink := &captureSink{}
	cfg := DefaultConfig()
	cfg.EscalationThreshold = 100
	o, _ := newTestOrchestrator(t, cfg, []escalate.Sink{sink}, det)

	fs, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, friction.LevelBlocked, fs.Level)
	assert.Less(t, fs.Score, cfg.ScoreEscalationThreshold)

	signals := sink.captured()
	require.Len(t, signals, 1)
	assert.Equal(t, escalate.ReasonLowScore, signals[0].Reason)
	assert.Equal(t, fs.Score, signals[0].Score)
}

func TestRunCycle_MergesAcrossDetectorsAndDedupes(t *testing.T) {
	syntax := &fakeDetector{category: friction.CategorySyntax}
	syntax.points = []*friction.Point{testPoint(friction.CategorySyntax, "src/a.ts", 1, friction.SeverityHigh, 0.5)}

	dep := &fakeDetector{category: friction.CategoryDependency}
	dep.points = []*friction.Point{testPoint(friction.CategoryDependency, "src/a.ts", 1, friction.SeverityHigh, 0.5)}
	// Same id reported twice simulates overlapping detector output.
	dep.points[0].ID = syntax.points[0].ID
	dep.points[0].Category = friction.CategoryDependency

	o, _ := newTestOrchestrator(t, DefaultConfig(), nil, syntax, dep)

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	// First occurrence wins, so only the syntax detector eliminates.
	assert.Len(t, syntax.eliminations(), 1)
	assert.Empty(t, dep.eliminations())
}

func TestFlowStateAndHistory(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	o, _ := newTestOrchestrator(t, DefaultConfig(), nil, det)

	initial := o.FlowState()
	assert.Equal(t, friction.LevelOptimal, initial.Level)
	assert.Equal(t, 1.0, initial.Score)
	assert.Empty(t, o.FlowHistory())

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	history := o.FlowHistory()
	require.Len(t, history, 1)
	assert.Equal(t, history[0], o.FlowState())
}

func TestFlowHistory_Bounded(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	cfg := DefaultConfig()
	cfg.FlowHistoryLimit = 3
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	for i := 0; i < 5; i++ {
		_, err := o.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, o.FlowHistory(), 3)
}

func TestStartStop(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	// Stopping an idle loop is a harmless no-op.
	require.NoError(t, o.Stop())
	assert.False(t, o.Running())

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.True(t, o.Running())

	// Starting twice is idempotent; the loop keeps running.
	require.NoError(t, o.Start(ctx))
	assert.True(t, o.Running())

	require.NoError(t, o.Stop())
	assert.False(t, o.Running())
	require.NoError(t, o.Stop())

	// The loop can be restarted after a clean stop.
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Stop())
}

func TestClaimRelease(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	o, _ := newTestOrchestrator(t, nil, nil, det)

	require.True(t, o.Claim("pt-1"))
	assert.False(t, o.Claim("pt-1"), "a held claim is exclusive")

	o.Release("pt-1")
	assert.True(t, o.Claim("pt-1"), "a released id can be claimed again")
	o.Release("pt-1")
}

func TestRunCycle_SkipsExternallyClaimedPoint(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	p := testPoint(friction.CategorySyntax, "src/a.ts", 1, friction.SeverityHigh, 0.5)
	det.points = []*friction.Point{p}
	o, _ := newTestOrchestrator(t, nil, nil, det)

	require.True(t, o.Claim(p.ID))
	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, det.eliminations(), "a cycle must not touch an externally claimed point")

	o.Release(p.ID)
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, det.eliminations())
}

func TestSeenPrunedToLivePoints(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	p := testPoint(friction.CategorySyntax, "src/a.ts", 1, friction.SeverityHigh, 0.5)
	cfg := DefaultConfig()
	cfg.MaxConcurrentEliminations = 1
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	det.points = []*friction.Point{p}
	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, o.Stats().TotalDetected)

	// The point was eliminated, so the dedup set must not retain it.
	o.mu.Lock()
	assert.Empty(t, o.seen)
	o.mu.Unlock()

	// The same friction recurring later is a fresh detection.
	p.Resolved = false
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, o.Stats().TotalDetected)
}

func TestTrigger_RunsCycle(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	det.points = []*friction.Point{testPoint(friction.CategorySyntax, "src/a.ts", 1, friction.SeverityHigh, 0.5)}

	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	o, _ := newTestOrchestrator(t, cfg, nil, det)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	o.Trigger()
	require.Eventually(t, func() bool {
		return len(det.eliminations()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
