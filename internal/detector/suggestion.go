package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// Suggestion is one candidate completion from the optional suggestion
// source.
type Suggestion struct {
	Kind             string
	Content          string
	Confidence       float64
	IntentAlignment  float64
	EstimatedSeconds int
}

// Suggester is the thought-completion collaborator. Implementations are
// out of scope; a nil-safe detector wraps whatever is provided.
type Suggester interface {
	Complete(ctx context.Context, ws *workspace.Context) ([]Suggestion, error)
}

// SuggestionDetector surfaces incomplete-thought friction: places where
// the suggestion source believes work was left half-done. Points land in
// the unknown category and are never auto-executed; elimination applies
// the single best suggestion as a transformation, ties resolved by
// declaration order (arbitrary, but stable).
type SuggestionDetector struct {
	*Base
	suggester Suggester
	editor    workspace.Editor

	mu          sync.Mutex
	suggestions map[string]suggestionTarget // point id -> accepted suggestion
}

type suggestionTarget struct {
	suggestion Suggestion
	file       string
	offset     int
}

// NewSuggestionDetector wires the optional suggestion source.
func NewSuggestionDetector(suggester Suggester, editor workspace.Editor, cfg *Config, logger *zap.Logger) (*SuggestionDetector, error) {
	if suggester == nil {
		return nil, fmt.Errorf("suggester is required")
	}
	if editor == nil {
		return nil, fmt.Errorf("editor is required")
	}
	return &SuggestionDetector{
		Base:        NewBase(friction.CategoryUnknown, cfg, logger),
		suggester:   suggester,
		editor:      editor,
		suggestions: make(map[string]suggestionTarget),
	}, nil
}

// Detect asks the suggestion source for completions against the captured
// context. Source errors yield zero points.
func (d *SuggestionDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	suggestions, err := d.suggester.Complete(ctx, ws)
	if err != nil {
		d.Logger().Warn("suggestion source failed", zap.Error(err))
		return d.Reconcile(nil, time.Now())
	}

	var candidates []*friction.Point
	targets := make(map[string]suggestionTarget)
	for i, s := range suggestions {
		file := ""
		offset := 0
		if len(ws.Files) > 0 {
			file = ws.Files[0].Path
			offset = len(ws.Files[0].Content)
		}
		p := &friction.Point{
			Category:    friction.CategoryUnknown,
			Severity:    friction.SeverityLow,
			Description: fmt.Sprintf("incomplete %s: %s", s.Kind, truncate(s.Content, 80)),
			Location:    &friction.Location{File: file, Line: i + 1},
			Impact: friction.Impact{
				FlowDisruption:    0.2,
				CognitiveLoad:     s.IntentAlignment,
				BlockingPotential: 0.1,
				EstimatedDelay:    time.Duration(s.EstimatedSeconds) * time.Second,
			},
			Metadata: friction.Metadata{
				Confidence: s.Confidence,
				Tags:       []string{"suggestion", "kind:" + s.Kind},
			},
		}
		candidates = append(candidates, p)
		targets[p.IdentityKey()] = suggestionTarget{suggestion: s, file: file, offset: offset}
	}

	live := d.Reconcile(candidates, time.Now())

	d.mu.Lock()
	d.suggestions = make(map[string]suggestionTarget, len(targets))
	for _, p := range live {
		if t, ok := targets[p.IdentityKey()]; ok {
			d.suggestions[p.ID] = t
		}
	}
	d.mu.Unlock()

	return live
}

// Eliminate appends the accepted suggestion's content at the recorded
// offset. Rollback removes exactly what was inserted.
func (d *SuggestionDetector) Eliminate(ctx context.Context, point *friction.Point) *friction.Result {
	d.mu.Lock()
	target, ok := d.suggestions[point.ID]
	d.mu.Unlock()
	if !ok || target.file == "" {
		return d.Failed(point, fmt.Errorf("%w: no accepted suggestion for %s", ErrNoStrategy, point.ID))
	}

	var inverse workspace.Edit
	strategy := friction.Strategy{
		Name:       "apply suggestion: " + target.suggestion.Kind,
		Type:       friction.StrategyTransformation,
		Confidence: target.suggestion.Confidence,
		Risk:       friction.RiskMedium,
		Steps: []friction.Step{
			{
				Name: "insert-completion",
				Action: func(ctx context.Context) error {
					inv, err := d.editor.Apply(ctx, workspace.Edit{
						Path:        target.file,
						Start:       target.offset,
						End:         target.offset,
						Replacement: []byte(target.suggestion.Content),
					})
					if err != nil {
						return err
					}
					inverse = inv
					return nil
				},
				Rollback: func(ctx context.Context) error {
					_, err := d.editor.Apply(ctx, inverse)
					return err
				},
			},
		},
	}

	chosen := friction.SelectStrategy([]friction.Strategy{strategy})
	return d.Execute(ctx, point, chosen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
