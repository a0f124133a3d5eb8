package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/pkgmgr"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// importPatterns pull module specifiers out of JS/TS sources.
var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+(?:[\w${},*\s]+\s+from\s+)?['"]([^'"]+)['"]`),
	regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`import\(\s*['"]([^'"]+)['"]\s*\)`),
}

// DependencyDetector finds packages that are imported but not installed
// and eliminates them by installing through the workspace's package
// manager.
type DependencyDetector struct {
	*Base
	manager pkgmgr.Manager
}

// NewDependencyDetector wires the package manager collaborator selected at
// startup.
func NewDependencyDetector(manager pkgmgr.Manager, cfg *Config, logger *zap.Logger) (*DependencyDetector, error) {
	if manager == nil {
		return nil, fmt.Errorf("package manager is required")
	}
	return &DependencyDetector{
		Base:    NewBase(friction.CategoryDependency, cfg, logger),
		manager: manager,
	}, nil
}

// Detect scans captured sources for bare module specifiers and reports a
// point per package missing from the workspace. Manager errors are logged
// and treated as "not missing" for that package.
func (d *DependencyDetector) Detect(ctx context.Context, ws *workspace.Context) []*friction.Point {
	missing := make(map[string]*friction.Location)
	for i := range ws.Files {
		file := &ws.Files[i]
		if file.Language != "javascript" && file.Language != "typescript" {
			continue
		}
		for _, pkg := range extractImports(file.Content) {
			if _, seen := missing[pkg]; seen {
				continue
			}
			installed, err := d.manager.IsInstalled(ctx, pkg)
			if err != nil {
				d.Logger().Warn("install check failed",
					zap.String("package", pkg),
					zap.Error(err),
				)
				continue
			}
			if !installed {
				missing[pkg] = &friction.Location{File: file.Path}
			}
		}
	}

	candidates := make([]*friction.Point, 0, len(missing))
	for pkg, loc := range missing {
		candidates = append(candidates, &friction.Point{
			Category:    friction.CategoryDependency,
			Severity:    friction.SeverityHigh,
			Description: fmt.Sprintf("package %q is imported but not installed", pkg),
			Location:    &friction.Location{File: loc.File, Snippet: pkg},
			Impact: friction.Impact{
				FlowDisruption:    0.7,
				CognitiveLoad:     0.3,
				BlockingPotential: 0.9,
				EstimatedDelay:    90 * time.Second,
			},
			Metadata: friction.Metadata{
				Confidence: 0.9,
				Tags:       []string{"auto-installable", "package:" + pkg},
			},
		})
	}
	return d.Reconcile(candidates, time.Now())
}

// Eliminate installs the missing package. The action re-checks
// installation first: if the package showed up since detection, install
// is skipped entirely and the strategy still succeeds.
func (d *DependencyDetector) Eliminate(ctx context.Context, point *friction.Point) *friction.Result {
	pkg := packageFromPoint(point)
	if pkg == "" {
		return d.Failed(point, fmt.Errorf("%w: point carries no package tag", ErrNoStrategy))
	}

	opts := pkgmgr.InstallOptions{}
	strategy := friction.Strategy{
		Name:       d.manager.InstallCommand(pkg, opts),
		Type:       friction.StrategyInstallation,
		Confidence: point.Metadata.Confidence,
		Risk:       friction.RiskMedium,
		Steps: []friction.Step{
			{
				Name: "install",
				Action: func(ctx context.Context) error {
					installed, err := d.manager.IsInstalled(ctx, pkg)
					if err != nil {
						return err
					}
					if installed {
						d.Logger().Debug("package already installed, skipping",
							zap.String("package", pkg))
						return nil
					}
					res := d.manager.Install(ctx, pkg, opts)
					if !res.Success {
						return res.Err
					}
					return nil
				},
				// Installed packages are left in place on later failures;
				// uninstalling could break unrelated code that started
				// using the package meanwhile.
				Validate: func(ctx context.Context) error {
					installed, err := d.manager.IsInstalled(ctx, pkg)
					if err != nil {
						return err
					}
					if !installed {
						return fmt.Errorf("package %q still missing after install", pkg)
					}
					return nil
				},
			},
		},
	}

	chosen := friction.SelectStrategy([]friction.Strategy{strategy})
	return d.Execute(ctx, point, chosen)
}

// packageFromPoint recovers the package name from the point's tags.
func packageFromPoint(point *friction.Point) string {
	for _, tag := range point.Metadata.Tags {
		if name, ok := strings.CutPrefix(tag, "package:"); ok {
			return name
		}
	}
	return ""
}

// extractImports returns bare package specifiers (relative and builtin
// imports excluded), scoped packages truncated to scope/name.
func extractImports(content []byte) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range importPatterns {
		for _, match := range pattern.FindAllSubmatch(content, -1) {
			spec := string(match[1])
			pkg := normalizeSpecifier(spec)
			if pkg == "" || seen[pkg] {
				continue
			}
			seen[pkg] = true
			out = append(out, pkg)
		}
	}
	return out
}

// normalizeSpecifier maps an import specifier to its package name, or ""
// for relative paths and node builtins.
func normalizeSpecifier(spec string) string {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		return ""
	}
	if strings.HasPrefix(spec, "node:") {
		return ""
	}
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
