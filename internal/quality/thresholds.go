package quality

import "fmt"

// SceneType selects which threshold tables govern decisioning.
type SceneType string

const (
	// SceneIndoor is for captures of interior spaces.
	SceneIndoor SceneType = "indoor"
	// SceneOutdoor is for captures of exterior spaces.
	SceneOutdoor SceneType = "outdoor"
	// SceneDefault is the fallback when the scene type is unknown.
	SceneDefault SceneType = "default"
)

// NormalizeSceneType maps arbitrary input to a supported scene type.
func NormalizeSceneType(s string) SceneType {
	switch SceneType(s) {
	case SceneIndoor:
		return SceneIndoor
	case SceneOutdoor:
		return SceneOutdoor
	default:
		return SceneDefault
	}
}

// MetricName identifies one of the three aggregate metrics.
type MetricName string

const (
	// MetricWDD is the weighted detection density.
	MetricWDD MetricName = "WDD"
	// MetricWPO is the weighted pixel occupancy percentage.
	MetricWPO MetricName = "WPO"
	// MetricSAI is the self-appearance index percentage.
	MetricSAI MetricName = "SAI"
)

// metricOrder is the fixed iteration order for decisioning and reporting.
var metricOrder = [3]MetricName{MetricWDD, MetricWPO, MetricSAI}

// QualityLevel is the tier a metric value falls into.
type QualityLevel string

const (
	// LevelExcellent means the metric is well within tolerance.
	LevelExcellent QualityLevel = "excellent"
	// LevelAcceptable means the metric is within tolerance.
	LevelAcceptable QualityLevel = "acceptable"
	// LevelReview means the metric warrants a human look.
	LevelReview QualityLevel = "review"
	// LevelReject means the metric alone disqualifies the capture.
	LevelReject QualityLevel = "reject"
)

// TierBounds holds the four ascending upper bounds of the quality tiers
// for one metric. A value below Excellent is excellent, below Acceptable
// acceptable, and so on; anything at or above Review's bound is reject.
type TierBounds struct {
	Excellent  float64 `json:"excellent"`
	Acceptable float64 `json:"acceptable"`
	Review     float64 `json:"review"`
	Reject     float64 `json:"reject"`
}

// Valid reports whether the bounds ascend strictly.
func (b TierBounds) Valid() bool {
	return b.Excellent < b.Acceptable && b.Acceptable < b.Review && b.Review < b.Reject
}

// ThresholdTable holds the tier bounds for all three metrics of one
// scene type.
type ThresholdTable struct {
	WDD TierBounds `json:"wdd"`
	WPO TierBounds `json:"wpo"`
	SAI TierBounds `json:"sai"`
}

// bounds returns the tier bounds for a metric name.
func (t ThresholdTable) bounds(name MetricName) TierBounds {
	switch name {
	case MetricWDD:
		return t.WDD
	case MetricWPO:
		return t.WPO
	default:
		return t.SAI
	}
}

// defaultThresholdTables are the built-in tier tables, tuned on labelled
// capture batches. Indoor scenes tolerate less interference because
// obstacles sit closer to the camera and occlude more of the structure.
var defaultThresholdTables = map[SceneType]ThresholdTable{
	SceneIndoor: {
		WDD: TierBounds{Excellent: 0.8, Acceptable: 2.0, Review: 4.5, Reject: 7.0},
		WPO: TierBounds{Excellent: 3.0, Acceptable: 8.0, Review: 18.0, Reject: 30.0},
		SAI: TierBounds{Excellent: 2.0, Acceptable: 8.0, Review: 15.0, Reject: 25.0},
	},
	SceneOutdoor: {
		WDD: TierBounds{Excellent: 1.5, Acceptable: 3.5, Review: 6.5, Reject: 10.0},
		WPO: TierBounds{Excellent: 5.0, Acceptable: 12.0, Review: 22.0, Reject: 35.0},
		SAI: TierBounds{Excellent: 3.0, Acceptable: 10.0, Review: 18.0, Reject: 30.0},
	},
	SceneDefault: {
		WDD: TierBounds{Excellent: 1.0, Acceptable: 3.0, Review: 6.0, Reject: 9.0},
		WPO: TierBounds{Excellent: 4.0, Acceptable: 10.0, Review: 20.0, Reject: 32.0},
		SAI: TierBounds{Excellent: 2.5, Acceptable: 9.0, Review: 16.0, Reject: 28.0},
	},
}

// ThresholdManager classifies metric values into quality tiers using
// per-scene-type tables. Tables are fixed at construction.
type ThresholdManager struct {
	tables map[SceneType]ThresholdTable
}

// NewThresholdManager builds a manager from explicit tables. Scene types
// missing from tables fall back to the built-in defaults. Pass nil for
// an all-defaults manager.
func NewThresholdManager(tables map[SceneType]ThresholdTable) (*ThresholdManager, error) {
	merged := make(map[SceneType]ThresholdTable, len(defaultThresholdTables))
	for scene, table := range defaultThresholdTables {
		merged[scene] = table
	}
	for scene, table := range tables {
		if scene != SceneIndoor && scene != SceneOutdoor && scene != SceneDefault {
			return nil, fmt.Errorf("unknown scene type %q in threshold tables", scene)
		}
		for _, name := range metricOrder {
			if b := table.bounds(name); !b.Valid() {
				return nil, fmt.Errorf("scene %s metric %s: tier bounds must ascend (got %+v)", scene, name, b)
			}
		}
		merged[scene] = table
	}
	return &ThresholdManager{tables: merged}, nil
}

// Table returns the threshold table for a scene type, falling back to
// the default table for unknown scenes.
func (tm *ThresholdManager) Table(scene SceneType) ThresholdTable {
	if t, ok := tm.tables[scene]; ok {
		return t
	}
	return tm.tables[SceneDefault]
}

// EvaluateMetric classifies a metric value: the first tier whose upper
// bound exceeds the value wins; values beyond every bound are reject.
func (tm *ThresholdManager) EvaluateMetric(scene SceneType, name MetricName, value float64) QualityLevel {
	b := tm.Table(scene).bounds(name)
	switch {
	case value < b.Excellent:
		return LevelExcellent
	case value < b.Acceptable:
		return LevelAcceptable
	case value < b.Review:
		return LevelReview
	default:
		return LevelReject
	}
}
