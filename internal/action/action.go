package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/detector"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/orchestrator"
	"github.com/fyrsmithlabs/frictiond/internal/pkgmgr"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
)

var (
	// ErrNotFound is returned when an item id does not match any live point.
	// Executing a resolved or purged point is a normal race, not a crash.
	ErrNotFound = errors.New("actionable item not found")

	// ErrInFlight is returned when the item is already being eliminated,
	// either by a monitoring cycle or another caller.
	ErrInFlight = errors.New("elimination already in flight")
)

// Urgency buckets a point's severity for display.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Severity cutoffs, on the normalized 0-1 scale, for urgency buckets.
const (
	urgencyHighCutoff   = 0.7
	urgencyMediumCutoff = 0.4
)

// Item is one friction point projected into a UI-ready action.
type Item struct {
	ID               string            `json:"id"`
	Category         friction.Category `json:"category"`
	Title            string            `json:"title"`
	Command          string            `json:"command,omitempty"`
	File             string            `json:"file,omitempty"`
	Line             int               `json:"line,omitempty"`
	Urgency          Urgency           `json:"urgency"`
	Severity         string            `json:"severity"`
	Confidence       float64           `json:"confidence"`
	AutoExecutable   bool              `json:"auto_executable"`
	EstimatedSeconds int               `json:"estimated_seconds"`
	DetectedAt       time.Time         `json:"detected_at"`
}

// List is the items payload plus the metadata a UI needs to render it.
// It is recomputed on every call, never cached.
type List struct {
	Items                 []Item                    `json:"items"`
	Total                 int                       `json:"total"`
	AutoExecutable        int                       `json:"auto_executable"`
	HighUrgency           int                       `json:"high_urgency"`
	TotalEstimatedSeconds int                       `json:"total_estimated_seconds"`
	Counts                map[Urgency]int           `json:"counts"`
	ByCategory            map[friction.Category]int `json:"by_category"`
	GeneratedAt           time.Time                 `json:"generated_at"`
}

// Service is the façade over the detectors for action-oriented callers.
type Service struct {
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
	manager  pkgmgr.Manager
	cfg      *detector.Config
	logger   *zap.Logger
}

// New creates the action façade. The package manager may be nil when the
// workspace has no JavaScript manifest; dependency items then render
// without a command.
func New(reg *registry.Registry, orch *orchestrator.Orchestrator, manager pkgmgr.Manager, cfg *detector.Config, logger *zap.Logger) (*Service, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg == nil {
		cfg = detector.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: reg,
		orch:     orch,
		manager:  manager,
		cfg:      cfg,
		logger:   logger.Named("action"),
	}, nil
}

// Items projects every live friction point into an actionable item,
// ordered by priority descending with detection order as tiebreak.
func (s *Service) Items(ctx context.Context) List {
	var points []*friction.Point
	for _, d := range s.registry.Detectors() {
		points = append(points, d.Live()...)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Priority() > points[j].Priority()
	})

	list := List{
		Items:       make([]Item, 0, len(points)),
		Counts:      make(map[Urgency]int),
		ByCategory:  make(map[friction.Category]int),
		GeneratedAt: time.Now(),
	}
	for _, p := range points {
		item := s.project(p)
		list.Items = append(list.Items, item)
		list.Counts[item.Urgency]++
		list.ByCategory[item.Category]++
		list.TotalEstimatedSeconds += item.EstimatedSeconds
		if item.AutoExecutable {
			list.AutoExecutable++
		}
	}
	list.Total = len(list.Items)
	list.HighUrgency = list.Counts[UrgencyHigh]
	return list
}

// Execute runs the owning detector's elimination for the item id. A miss
// returns ErrNotFound so callers can answer 404 instead of crashing. The
// point is claimed in the orchestrator's in-flight set for the duration,
// so an execution racing a monitoring cycle never eliminates twice;
// ErrInFlight reports the losing side.
func (s *Service) Execute(ctx context.Context, id string) (*friction.Result, error) {
	for _, d := range s.registry.Detectors() {
		for _, p := range d.Live() {
			if p.ID != id {
				continue
			}
			if !s.orch.Claim(p.ID) {
				return nil, fmt.Errorf("%w: %s", ErrInFlight, id)
			}
			defer s.orch.Release(p.ID)

			s.logger.Info("executing action",
				zap.String("point_id", id),
				zap.String("category", string(p.Category)))
			return d.Eliminate(ctx, p), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Stats passes through the orchestrator's lifetime counters.
func (s *Service) Stats() orchestrator.Stats {
	return s.orch.Stats()
}

// Flow passes through the latest derived flow state.
func (s *Service) Flow() friction.FlowState {
	return s.orch.FlowState()
}

func (s *Service) project(p *friction.Point) Item {
	item := Item{
		ID:               p.ID,
		Category:         p.Category,
		Title:            s.title(p),
		Command:          s.command(p),
		Urgency:          urgencyFor(p.Severity),
		Severity:         p.Severity.String(),
		Confidence:       p.Metadata.Confidence,
		AutoExecutable:   s.autoExecutable(p),
		EstimatedSeconds: estimatedSeconds(p),
		DetectedAt:       p.DetectedAt,
	}
	if p.Location != nil {
		item.File = p.Location.File
		item.Line = p.Location.Line
	}
	return item
}

func (s *Service) title(p *friction.Point) string {
	switch p.Category {
	case friction.CategoryDependency:
		if pkg := packageTag(p); pkg != "" {
			return "Install missing package " + pkg
		}
		return "Install missing dependency"
	case friction.CategorySyntax:
		if p.Location != nil {
			return fmt.Sprintf("Fix %s in %s", p.Description, p.Location.File)
		}
		return "Fix " + p.Description
	default:
		return p.Description
	}
}

// command renders what executing the item will run, for display only.
func (s *Service) command(p *friction.Point) string {
	switch p.Category {
	case friction.CategoryDependency:
		pkg := packageTag(p)
		if pkg == "" || s.manager == nil {
			return ""
		}
		return s.manager.InstallCommand(pkg, pkgmgr.InstallOptions{})
	case friction.CategorySyntax:
		if p.Metadata.HasTag("auto-fixable") {
			return "fix"
		}
		return ""
	default:
		return ""
	}
}

// autoExecutable marks items safe to run without confirmation: the
// detector pre-validated a fix and its confidence clears the floor.
func (s *Service) autoExecutable(p *friction.Point) bool {
	if p.Metadata.Confidence < s.cfg.AutoFixConfidence {
		return false
	}
	return p.Metadata.HasTag("auto-fixable") || p.Metadata.HasTag("auto-installable")
}

func urgencyFor(sev friction.Severity) Urgency {
	switch n := sev.Normalized(); {
	case n >= urgencyHighCutoff:
		return UrgencyHigh
	case n >= urgencyMediumCutoff:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func estimatedSeconds(p *friction.Point) int {
	if p.Impact.EstimatedDelay > 0 {
		return int(p.Impact.EstimatedDelay / time.Second)
	}
	// No detector estimate; assume a short manual fix.
	return 30
}

func packageTag(p *friction.Point) string {
	const prefix = "package:"
	for _, tag := range p.Metadata.Tags {
		if len(tag) > len(prefix) && tag[:len(prefix)] == prefix {
			return tag[len(prefix):]
		}
	}
	return ""
}
