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

// Diagnostic is one finding from the injected language analysis
// collaborator.
type Diagnostic struct {
	Message  string
	Line     int
	Column   int
	Severity friction.Severity

	// Fix, when present, is the analyzer's proposed byte-range correction
	// with its confidence.
	Fix *ProposedFix
}

// ProposedFix is a concrete edit an analyzer believes corrects a
// diagnostic.
type ProposedFix struct {
	Edit       workspace.Edit
	Confidence float64
}

// Analyzer is the diagnostic source consumed by the syntax detector. The
// concrete engine (LSP bridge, tree-sitter, etc.) is out of scope here.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, language string) ([]Diagnostic, error)
}

// SyntaxDetector finds and auto-corrects syntax-class friction.
type SyntaxDetector struct {
	*Base
	analyzer Analyzer
	editor   workspace.Editor

	mu    sync.Mutex
	fixes map[string]pendingFix // point id -> proposed fix
	langs map[string]string     // file path -> language, for re-validation
}

type pendingFix struct {
	fix  ProposedFix
	file string
}

// NewSyntaxDetector wires the analyzer and editor collaborators.
func NewSyntaxDetector(analyzer Analyzer, editor workspace.Editor, cfg *Config, logger *zap.Logger) (*SyntaxDetector, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if editor == nil {
		return nil, fmt.Errorf("editor is required")
	}
	return &SyntaxDetector{
		Base:     NewBase(friction.CategorySyntax, cfg, logger),
		analyzer: analyzer,
		editor:   editor,
		fixes:    make(map[string]pendingFix),
		langs:    make(map[string]string),
	}, nil
}

// Detect analyzes every captured file. Analyzer errors are logged and
// yield no points for that file; the cycle never sees them.
func (d *SyntaxDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	var candidates []*friction.Point
	fixByKey := make(map[string]pendingFix)

	for i := range ws.Files {
		file := &ws.Files[i]
		diags, err := d.analyzer.Analyze(ctx, file.Content, file.Language)
		if err != nil {
			d.Logger().Warn("analyzer failed, skipping file",
				zap.String("file", file.Path),
				zap.Error(err),
			)
			continue
		}
		d.mu.Lock()
		d.langs[file.Path] = file.Language
		d.mu.Unlock()

		for _, diag := range diags {
			p := d.pointFor(file, diag)
			candidates = append(candidates, p)
			if diag.Fix != nil {
				pf := *diag.Fix
				// Analyzers see content, not paths; fill in the target.
				if pf.Edit.Path == "" {
					pf.Edit.Path = file.Path
				}
				fixByKey[p.IdentityKey()] = pendingFix{fix: pf, file: file.Path}
			}
		}
	}

	live := d.Reconcile(candidates, time.Now())

	// Re-key pending fixes by the ids the live set settled on.
	d.mu.Lock()
	d.fixes = make(map[string]pendingFix, len(fixByKey))
	for _, p := range live {
		if pf, ok := fixByKey[p.IdentityKey()]; ok {
			d.fixes[p.ID] = pf
		}
	}
	d.mu.Unlock()

	return live
}

// pointFor shapes one diagnostic into a friction point candidate.
func (d *SyntaxDetector) pointFor(file *workspace.File, diag Diagnostic) *friction.Point {
	confidence := 0.5
	tags := []string{"syntax"}
	if diag.Fix != nil {
		confidence = diag.Fix.Confidence
		tags = append(tags, "auto-fixable")
	}
	return &friction.Point{
		Category:    friction.CategorySyntax,
		Severity:    diag.Severity,
		Description: diag.Message,
		Location: &friction.Location{
			File:    file.Path,
			Line:    diag.Line,
			Column:  diag.Column,
			Snippet: snippetAt(file.Content, diag.Line),
		},
		Impact: friction.Impact{
			FlowDisruption:    diag.Severity.Normalized(),
			CognitiveLoad:     0.6,
			BlockingPotential: diag.Severity.Normalized(),
			EstimatedDelay:    2 * time.Minute,
		},
		Metadata: friction.Metadata{
			Confidence: confidence,
			Tags:       tags,
		},
	}
}

// Eliminate applies the analyzer's proposed fix through the editor as an
// auto-correction strategy: apply edit, validate by re-analysis, roll the
// edit back if validation fails.
func (d *SyntaxDetector) Eliminate(ctx context.Context, point *friction.Point) *friction.Result {
	d.mu.Lock()
	pf, ok := d.fixes[point.ID]
	var language string
	if ok {
		language = d.langs[pf.file]
	}
	d.mu.Unlock()
	if !ok {
		return d.Failed(point, fmt.Errorf("%w for %s", ErrNoStrategy, point.ID))
	}

	var inverse workspace.Edit

	strategy := friction.Strategy{
		Name:       fmt.Sprintf("auto-correct %s:%d", pf.file, point.Location.Line),
		Type:       friction.StrategyAutoCorrection,
		Confidence: pf.fix.Confidence,
		Risk:       friction.RiskLow,
		Steps: []friction.Step{
			{
				Name: "apply-edit",
				Action: func(ctx context.Context) error {
					inv, err := d.editor.Apply(ctx, pf.fix.Edit)
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
				Validate: func(ctx context.Context) error {
					return d.revalidate(ctx, pf.file, language, point.Location.Line)
				},
			},
		},
	}

	chosen := friction.SelectStrategy([]friction.Strategy{strategy})
	return d.Execute(ctx, point, chosen)
}

// revalidate re-analyzes the edited file and confirms the diagnostic at
// the point's line is gone.
func (d *SyntaxDetector) revalidate(ctx context.Context, path, language string, line int) error {
	content, err := d.readBack(ctx, path)
	if err != nil {
		return fmt.Errorf("re-reading %s: %w", path, err)
	}
	diags, err := d.analyzer.Analyze(ctx, content, language)
	if err != nil {
		return fmt.Errorf("re-analyzing %s: %w", path, err)
	}
	for _, diag := range diags {
		if diag.Line == line {
			return fmt.Errorf("diagnostic persists at %s:%d: %s", path, line, diag.Message)
		}
	}
	return nil
}

// readBack fetches the current content of an edited file so validation
// re-analyzes what is actually there, not the pre-edit snapshot.
func (d *SyntaxDetector) readBack(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := d.editor.(workspace.Reader)
	if !ok {
		return nil, fmt.Errorf("editor cannot read back %s", path)
	}
	return r.ReadFile(path)
}

// snippetAt extracts the 1-based line from content for location context.
func snippetAt(content []byte, line int) string {
	if line < 1 {
		return ""
	}
	current := 1
	start := 0
	for i := 0; i <= len(content); i++ {
		if i == len(content) || content[i] == '\n' {
			if current == line {
				return string(content[start:i])
			}
			current++
			start = i + 1
		}
	}
	return ""
}
