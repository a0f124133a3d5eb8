package friction

import "time"

// Level is the discrete flow-state bucket. It is a pure function of the
// score; there is no transition table.
type Level string

const (
	LevelOptimal   Level = "optimal"
	LevelGood      Level = "good"
	LevelModerate  Level = "moderate"
	LevelDisrupted Level = "disrupted"
	LevelBlocked   Level = "blocked"
)

// Score thresholds for level derivation. A score equal to a threshold
// belongs to the higher level.
const (
	ThresholdOptimal   = 0.9
	ThresholdGood      = 0.7
	ThresholdModerate  = 0.5
	ThresholdDisrupted = 0.3
)

// LevelForScore maps a [0,1] score onto its level.
func LevelForScore(score float64) Level {
	switch {
	case score >= ThresholdOptimal:
		return LevelOptimal
	case score >= ThresholdGood:
		return LevelGood
	case score >= ThresholdModerate:
		return LevelModerate
	case score >= ThresholdDisrupted:
		return LevelDisrupted
	default:
		return LevelBlocked
	}
}

// Factor is one friction point's signed contribution to the flow score.
type Factor struct {
	PointID     string   `json:"point_id"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Impact      float64  `json:"impact"`
}

// FlowState is the derived, recomputed-each-cycle summary of workspace
// friction. It is never persisted as source of truth; the score is always
// recomputed from the live friction set.
type FlowState struct {
	Level      Level         `json:"level"`
	Score      float64       `json:"score"`
	Factors    []Factor      `json:"factors,omitempty"`
	ComputedAt time.Time     `json:"computed_at"`
	LevelFor   time.Duration `json:"level_for"`
}

// ComputeFlowState derives the flow state from the currently unresolved
// friction points. The score starts at 1.0 and loses
// flowDisruption x (severity / maxSeverity) per point, clamped to [0,1].
func ComputeFlowState(points []*Point, now time.Time) FlowState {
	score := 1.0
	var factors []Factor
	for _, p := range points {
		if p.Resolved {
			continue
		}
		impact := p.Impact.FlowDisruption * p.Severity.Normalized()
		score -= impact
		factors = append(factors, Factor{
			PointID:     p.ID,
			Category:    p.Category,
			Description: p.Description,
			Impact:      -impact,
		})
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return FlowState{
		Level:      LevelForScore(score),
		Score:      score,
		Factors:    factors,
		ComputedAt: now,
	}
}
