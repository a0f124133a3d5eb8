// Package friction defines the data model for the friction engine:
// detected friction points, elimination strategies and results, and the
// derived flow state.
package friction

import (
	"fmt"
	"time"
)

// Category classifies a friction point. The set is closed; detectors are
// registered per category and an unknown category is a configuration error.
type Category string

const (
	CategorySyntax        Category = "syntax"
	CategoryDependency    Category = "dependency"
	CategoryConfiguration Category = "configuration"
	CategoryConnectivity  Category = "connectivity"
	CategoryPerformance   Category = "performance"
	CategoryArchitectural Category = "architectural"
	CategoryUnknown       Category = "unknown"
)

// AllCategories returns every valid category in declaration order.
func AllCategories() []Category {
	return []Category{
		CategorySyntax,
		CategoryDependency,
		CategoryConfiguration,
		CategoryConnectivity,
		CategoryPerformance,
		CategoryArchitectural,
		CategoryUnknown,
	}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Severity is an ordered 0-5 scale. It drives prioritization together with
// blocking potential.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityBlocking

	// MaxSeverity is the top of the scale, used to normalize severity
	// into [0,1] for flow scoring and UI bucketing.
	MaxSeverity = SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityBlocking:
		return "blocking"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Normalized returns severity scaled into [0,1].
func (s Severity) Normalized() float64 {
	if s <= SeverityNone {
		return 0
	}
	if s >= MaxSeverity {
		return 1
	}
	return float64(s) / float64(MaxSeverity)
}

// Location pins a friction point to a place in the workspace.
type Location struct {
	File      string   `json:"file,omitempty"`
	Line      int      `json:"line,omitempty"`
	Column    int      `json:"column,omitempty"`
	ScopePath []string `json:"scope_path,omitempty"`
	Snippet   string   `json:"snippet,omitempty"`
}

// Key returns the location's identity component: file:line:column.
func (l *Location) Key() string {
	if l == nil {
		return "global"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Impact quantifies how much a friction point hurts. All scores are in
// [0,1]; EstimatedDelay is the expected time cost if left unresolved.
type Impact struct {
	FlowDisruption    float64       `json:"flow_disruption"`
	CognitiveLoad     float64       `json:"cognitive_load"`
	BlockingPotential float64       `json:"blocking_potential"`
	EstimatedDelay    time.Duration `json:"estimated_delay"`
}

// AttemptRecord is one entry in a point's resolution attempt log.
type AttemptRecord struct {
	At       time.Time `json:"at"`
	Strategy string    `json:"strategy"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
}

// Metadata carries detector-supplied confidence and bookkeeping.
type Metadata struct {
	Confidence float64         `json:"confidence"`
	Recurrence int             `json:"recurrence"`
	Attempts   []AttemptRecord `json:"attempts,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

// HasTag reports whether the metadata carries the given free-form tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Point is the unit of detected trouble. It is created by a detector's
// scan and mutated only by that detector: marked resolved on successful
// elimination, invalidated by re-detection, or purged when stale.
type Point struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Location    *Location `json:"location,omitempty"`
	Impact      Impact    `json:"impact"`
	Metadata    Metadata  `json:"metadata"`
	DetectedAt  time.Time `json:"detected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Resolved    bool      `json:"resolved"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

// NewPointID derives the stable identity for a point: category, location,
// and discovery time. Two live points never share an id because a
// detector's live set is keyed by category+location, so re-detection of an
// unchanged location reuses the original point (and its id) rather than
// minting a new one.
func NewPointID(cat Category, loc *Location, discoveredAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", cat, loc.Key(), discoveredAt.UnixNano())
}

// IdentityKey is the live-set key: category plus location. Discovery time
// is deliberately excluded so repeated scans of an unchanged workspace map
// to the same live point.
func (p *Point) IdentityKey() string {
	return string(p.Category) + ":" + p.Location.Key()
}

// Priority is the cycle ordering score: severity plus blocking potential,
// sorted descending.
func (p *Point) Priority() float64 {
	return float64(p.Severity) + p.Impact.BlockingPotential
}

// RecordAttempt appends an attempt to the point's resolution log.
func (p *Point) RecordAttempt(strategy string, success bool, errMsg string) {
	p.Metadata.Attempts = append(p.Metadata.Attempts, AttemptRecord{
		At:       time.Now(),
		Strategy: strategy,
		Success:  success,
		Error:    errMsg,
	})
}

// FailedAttempts counts unsuccessful entries in the attempt log.
func (p *Point) FailedAttempts() int {
	n := 0
	for _, a := range p.Metadata.Attempts {
		if !a.Success {
			n++
		}
	}
	return n
}
