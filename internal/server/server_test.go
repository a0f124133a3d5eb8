package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/action"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/orchestrator"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

type fakeCapturer struct{}

func (fakeCapturer) Capture(ctx context.Context) (*workspace.Context, error) {
	return &workspace.Context{Root: "/workspace", CapturedAt: time.Now()}, nil
}

type fakeDetector struct {
	mu     sync.Mutex
	points []*friction.Point
}

func (f *fakeDetector) Category() friction.Category { return friction.CategorySyntax }

func (f *fakeDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	return f.Live()
}

func (f *fakeDetector) Eliminate(ctx context.Context, point *friction.Point) *friction.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.points {
		if p.ID == point.ID {
			p.Resolved = true
		}
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
	out := make([]*friction.Point, 0, len(f.points))
	for _, p := range f.points {
		if !p.Resolved {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeDetector) History() []*friction.Result { return nil }

func newTestServer(t *testing.T, det *fakeDetector) *Server {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Register(det))

	cfg := orchestrator.DefaultConfig()
	cfg.Interval = time.Hour
	orch, err := orchestrator.New(cfg, reg, fakeCapturer{}, nil, zap.NewNop())
	require.NoError(t, err)

	actions, err := action.New(reg, orch, nil, nil, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(orch, actions, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func syntaxPoint(file string) *friction.Point {
	loc := &friction.Location{File: file, Line: 2, Column: 1}
	now := time.Now()
	return &friction.Point{
		ID:          friction.NewPointID(friction.CategorySyntax, loc, now),
		Category:    friction.CategorySyntax,
		Severity:    friction.SeverityHigh,
		Description: "missing closing brace",
		Location:    loc,
		Impact:      friction.Impact{FlowDisruption: 0.3, BlockingPotential: 0.5},
		Metadata:    friction.Metadata{Confidence: 0.95, Tags: []string{"auto-fixable"}},
		DetectedAt:  now,
		LastSeenAt:  now,
	}
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, nil, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{})

	rec := doRequest(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{})

	rec := doRequest(srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines") ||
		rec.Body.Len() > 0)
}

func TestDetect(t *testing.T) {
	det := &fakeDetector{points: []*friction.Point{syntaxPoint("src/a.ts")}}
	srv := newTestServer(t, det)

	rec := doRequest(srv, http.MethodPost, "/api/v1/detect")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The cycle eliminated the only point, so nothing is left actionable.
	assert.Equal(t, 1.0, resp.Flow.Score)
	assert.Empty(t, resp.Items.Items)
}

func TestActions_ListAndExecute(t *testing.T) {
	p := syntaxPoint("src/a.ts")
	det := &fakeDetector{points: []*friction.Point{p}}
	srv := newTestServer(t, det)

	rec := doRequest(srv, http.MethodGet, "/api/v1/actions")
	require.Equal(t, http.StatusOK, rec.Code)

	var list action.List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, p.ID, list.Items[0].ID)

	rec = doRequest(srv, http.MethodPost, "/api/v1/actions/"+p.ID+"/execute")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Success)

	// The point is resolved now; executing again is a 404, not a crash.
	rec = doRequest(srv, http.MethodPost, "/api/v1/actions/"+p.ID+"/execute")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecute_UnknownID(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{})

	rec := doRequest(srv, http.MethodPost, "/api/v1/actions/nope/execute")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowAndStats(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/flow")
	require.Equal(t, http.StatusOK, rec.Code)

	var fs friction.FlowState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fs))
	assert.Equal(t, friction.LevelOptimal, fs.Level)

	rec = doRequest(srv, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats orchestrator.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalDetected)

	rec = doRequest(srv, http.MethodGet, "/api/v1/flow/history")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitorLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/monitor")
	require.Equal(t, http.StatusOK, rec.Code)
	var status MonitorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)

	rec = doRequest(srv, http.MethodPost, "/api/v1/monitor/start")
	assert.Equal(t, http.StatusOK, rec.Code)

	// start is idempotent: a repeat answers 200 with the running state.
	rec = doRequest(srv, http.MethodPost, "/api/v1/monitor/start")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)

	rec = doRequest(srv, http.MethodPost, "/api/v1/monitor/stop")
	assert.Equal(t, http.StatusOK, rec.Code)

	// stop on an idle loop is equally safe.
	rec = doRequest(srv, http.MethodPost, "/api/v1/monitor/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
}
