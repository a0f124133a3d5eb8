package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/escalate"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/orchestrator"
	"github.com/fyrsmithlabs/frictiond/internal/pkgmgr"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

type fakeCapturer struct{}

func (fakeCapturer) Capture(ctx context.Context) (*workspace.Context, error) {
	return &workspace.Context{Root: "/workspace", CapturedAt: time.Now()}, nil
}

type fakeDetector struct {
	mu       sync.Mutex
	category friction.Category
	points   []*friction.Point
	calls    []string

	// blockStarted/blockRelease let a test hold an elimination open.
	blockStarted chan struct{}
	blockRelease chan struct{}
}

func (f *fakeDetector) Category() friction.Category { return f.category }

func (f *fakeDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	return f.Live()
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

	return &friction.Result{
		ID:          "res-" + point.ID,
		PointID:     point.ID,
		Category:    point.Category,
		Success:     true,
		CompletedAt: time.Now(),
	}
}

func (f *fakeDetector) Live() []*friction.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*friction.Point, len(f.points))
	copy(out, f.points)
	return out
}

func (f *fakeDetector) History() []*friction.Result { return nil }

type fakeManager struct{}

func (fakeManager) Name() string { return "pnpm" }

func (fakeManager) IsInstalled(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (fakeManager) Install(ctx context.Context, name string, opts pkgmgr.InstallOptions) pkgmgr.InstallResult {
	return pkgmgr.InstallResult{Success: true}
}

func (fakeManager) InstallCommand(name string, opts pkgmgr.InstallOptions) string {
	return "pnpm add " + name
}

func newFacade(t *testing.T, dets ...*fakeDetector) (*Service, *orchestrator.Orchestrator) {
	t.Helper()

	reg := registry.New()
	for _, d := range dets {
		require.NoError(t, reg.Register(d))
	}
	orch, err := orchestrator.New(nil, reg, fakeCapturer{}, []escalate.Sink{}, zap.NewNop())
	require.NoError(t, err)

	svc, err := New(reg, orch, fakeManager{}, nil, zap.NewNop())
	require.NoError(t, err)
	return svc, orch
}

func dependencyPoint(pkg string) *friction.Point {
	loc := &friction.Location{File: "src/app.ts", Line: 3, Column: 1}
	now := time.Now()
	return &friction.Point{
		ID:          friction.NewPointID(friction.CategoryDependency, loc, now),
		Category:    friction.CategoryDependency,
		Severity:    friction.SeverityHigh,
		Description: "missing package " + pkg,
		Location:    loc,
		Impact: friction.Impact{
			FlowDisruption:    0.6,
			BlockingPotential: 0.9,
			EstimatedDelay:    2 * time.Minute,
		},
		Metadata: friction.Metadata{
			Confidence: 0.9,
			Tags:       []string{"auto-installable", "package:" + pkg},
		},
		DetectedAt: now,
		LastSeenAt: now,
	}
}

func syntaxPoint(file string, sev friction.Severity, confidence float64, fixable bool) *friction.Point {
	loc := &friction.Location{File: file, Line: 2, Column: 5}
	now := time.Now()
	tags := []string{"syntax"}
	if fixable {
		tags = append(tags, "auto-fixable")
	}
	return &friction.Point{
		ID:          friction.NewPointID(friction.CategorySyntax, loc, now),
		Category:    friction.CategorySyntax,
		Severity:    sev,
		Description: "missing closing brace",
		Location:    loc,
		Impact:      friction.Impact{FlowDisruption: 0.3, BlockingPotential: 0.4},
		Metadata:    friction.Metadata{Confidence: confidence, Tags: tags},
		DetectedAt:  now,
		LastSeenAt:  now,
	}
}

func TestItems_DependencyProjection(t *testing.T) {
	det := &fakeDetector{category: friction.CategoryDependency}
	det.points = []*friction.Point{dependencyPoint("lodash")}
	svc, _ := newFacade(t, det)

	list := svc.Items(context.Background())
	require.Len(t, list.Items, 1)

	item := list.Items[0]
	assert.Equal(t, "Install missing package lodash", item.Title)
	assert.Equal(t, "pnpm add lodash", item.Command)
	assert.Equal(t, UrgencyHigh, item.Urgency)
	assert.Equal(t, "high", item.Severity)
	assert.True(t, item.AutoExecutable)
	assert.Equal(t, 120, item.EstimatedSeconds)
	assert.Equal(t, "src/app.ts", item.File)
	assert.Equal(t, 3, item.Line)
	assert.Equal(t, 1, list.Counts[UrgencyHigh])
	assert.False(t, list.GeneratedAt.IsZero())
}

func TestItems_SyntaxProjection(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	det.points = []*friction.Point{syntaxPoint("src/util.ts", friction.SeverityMedium, 0.95, true)}
	svc, _ := newFacade(t, det)

	list := svc.Items(context.Background())
	require.Len(t, list.Items, 1)

	item := list.Items[0]
	assert.Equal(t, "Fix missing closing brace in src/util.ts", item.Title)
	assert.Equal(t, "fix", item.Command)
	assert.Equal(t, UrgencyMedium, item.Urgency)
	assert.True(t, item.AutoExecutable)
	assert.Equal(t, 30, item.EstimatedSeconds, "missing delay estimate falls back to the default")
}

func TestItems_LowConfidenceIsNotAutoExecutable(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	det.points = []*friction.Point{syntaxPoint("src/a.ts", friction.SeverityLow, 0.5, true)}
	svc, _ := newFacade(t, det)

	list := svc.Items(context.Background())
	require.Len(t, list.Items, 1)
	assert.False(t, list.Items[0].AutoExecutable)
	assert.Equal(t, UrgencyLow, list.Items[0].Urgency)
}

func TestItems_OrderedByPriority(t *testing.T) {
	syntax := &fakeDetector{category: friction.CategorySyntax}
	syntax.points = []*friction.Point{syntaxPoint("src/a.ts", friction.SeverityLow, 0.5, false)}

	dep := &fakeDetector{category: friction.CategoryDependency}
	dep.points = []*friction.Point{dependencyPoint("zod")}

	svc, _ := newFacade(t, syntax, dep)

	list := svc.Items(context.Background())
	require.Len(t, list.Items, 2)
	assert.Equal(t, friction.CategoryDependency, list.Items[0].Category)
	assert.Equal(t, friction.CategorySyntax, list.Items[1].Category)
}

func TestExecute_RoutesToOwningDetector(t *testing.T) {
	det := &fakeDetector{category: friction.CategoryDependency}
	p := dependencyPoint("lodash")
	det.points = []*friction.Point{p}
	svc, _ := newFacade(t, det)

	res, err := svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, p.ID, res.PointID)
	assert.Equal(t, []string{p.ID}, det.calls)
}

func TestExecute_ClaimedPointReportsInFlight(t *testing.T) {
	det := &fakeDetector{category: friction.CategoryDependency}
	p := dependencyPoint("react")
	det.points = []*friction.Point{p}
	svc, orch := newFacade(t, det)

	require.True(t, orch.Claim(p.ID))
	res, err := svc.Execute(context.Background(), p.ID)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Empty(t, det.calls, "a claimed point must not be eliminated again")

	orch.Release(p.ID)
	res, err = svc.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{p.ID}, det.calls)
}

func TestExecute_RacingCycleKeepsTheClaim(t *testing.T) {
	det := &fakeDetector{
		category:     friction.CategoryDependency,
		blockStarted: make(chan struct{}, 1),
		blockRelease: make(chan struct{}),
	}
	p := dependencyPoint("react")
	det.points = []*friction.Point{p}
	svc, orch := newFacade(t, det)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.RunCycle(context.Background())
	}()

	// The cycle's elimination of p is in flight; executing p now must
	// lose the claim race, not run a second elimination.
	<-det.blockStarted
	res, err := svc.Execute(context.Background(), p.ID)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInFlight)

	close(det.blockRelease)
	<-done
	assert.Equal(t, []string{p.ID}, det.calls, "exactly one elimination for the contested id")
}

func TestItems_AggregatedMetadata(t *testing.T) {
	dep := &fakeDetector{category: friction.CategoryDependency}
	dep.points = []*friction.Point{dependencyPoint("lodash")}

	syntax := &fakeDetector{category: friction.CategorySyntax}
	syntax.points = []*friction.Point{
		syntaxPoint("src/a.ts", friction.SeverityMedium, 0.95, true),
		syntaxPoint("src/b.ts", friction.SeverityLow, 0.5, false),
	}

	svc, _ := newFacade(t, dep, syntax)

	list := svc.Items(context.Background())
	require.Len(t, list.Items, 3)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.AutoExecutable)
	assert.Equal(t, 1, list.HighUrgency)
	assert.Equal(t, 120+30+30, list.TotalEstimatedSeconds)
	assert.Equal(t, 1, list.ByCategory[friction.CategoryDependency])
	assert.Equal(t, 2, list.ByCategory[friction.CategorySyntax])
	assert.Equal(t, 1, list.Counts[UrgencyHigh])
	assert.Equal(t, 1, list.Counts[UrgencyMedium])
	assert.Equal(t, 1, list.Counts[UrgencyLow])
}

func TestExecute_UnknownID(t *testing.T) {
	det := &fakeDetector{category: friction.CategoryDependency}
	svc, _ := newFacade(t, det)

	res, err := svc.Execute(context.Background(), "dependency:src/gone.ts:1:1:123")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatsAndFlowPassthrough(t *testing.T) {
	det := &fakeDetector{category: friction.CategorySyntax}
	svc, _ := newFacade(t, det)

	stats := svc.Stats()
	assert.Equal(t, 0, stats.TotalDetected)

	flow := svc.Flow()
	assert.Equal(t, friction.LevelOptimal, flow.Level)
	assert.Equal(t, 1.0, flow.Score)
}
