package quality

import (
	"fmt"
	"time"
)

// DecisionThresholds holds the two cutoff sets the decision engine uses
// on top of the tier tables: Reject is the hard single-metric cutoff,
// Problem the lower bar marking a metric as "of concern". Both are
// scene-type sensitive and supplied by configuration; they are not
// derived from the tier table.
type DecisionThresholds struct {
	Reject  MetricValues `json:"reject"`
	Problem MetricValues `json:"problem"`
}

// Valid reports whether every problem bar sits at or below its reject
// cutoff.
func (d DecisionThresholds) Valid() bool {
	return d.Problem.WDD <= d.Reject.WDD &&
		d.Problem.WPO <= d.Reject.WPO &&
		d.Problem.SAI <= d.Reject.SAI
}

// defaultDecisionThresholds are the built-in cutoffs, aligned with the
// top tiers of the default tables.
var defaultDecisionThresholds = map[SceneType]DecisionThresholds{
	SceneIndoor: {
		Reject:  MetricValues{WDD: 7.0, WPO: 30.0, SAI: 25.0},
		Problem: MetricValues{WDD: 2.0, WPO: 8.0, SAI: 8.0},
	},
	SceneOutdoor: {
		Reject:  MetricValues{WDD: 10.0, WPO: 35.0, SAI: 30.0},
		Problem: MetricValues{WDD: 3.5, WPO: 12.0, SAI: 10.0},
	},
	SceneDefault: {
		Reject:  MetricValues{WDD: 9.0, WPO: 32.0, SAI: 28.0},
		Problem: MetricValues{WDD: 3.0, WPO: 10.0, SAI: 9.0},
	},
}

// DecisionEngine combines final metrics with the threshold tables into a
// single categorical decision plus an auditable problem list.
type DecisionEngine struct {
	thresholds *ThresholdManager
	cutoffs    map[SceneType]DecisionThresholds
	now        func() time.Time
}

// NewDecisionEngine builds an engine over the given tier manager and
// decision cutoffs. Scene types missing from cutoffs fall back to the
// built-in defaults; pass nil for all defaults.
func NewDecisionEngine(thresholds *ThresholdManager, cutoffs map[SceneType]DecisionThresholds) (*DecisionEngine, error) {
	merged := make(map[SceneType]DecisionThresholds, len(defaultDecisionThresholds))
	for scene, d := range defaultDecisionThresholds {
		merged[scene] = d
	}
	for scene, d := range cutoffs {
		if scene != SceneIndoor && scene != SceneOutdoor && scene != SceneDefault {
			return nil, fmt.Errorf("unknown scene type %q in decision thresholds", scene)
		}
		if !d.Valid() {
			return nil, fmt.Errorf("scene %s: problem thresholds must not exceed reject thresholds", scene)
		}
		merged[scene] = d
	}
	return &DecisionEngine{
		thresholds: thresholds,
		cutoffs:    merged,
		now:        time.Now,
	}, nil
}

// Cutoffs returns the decision thresholds for a scene type.
func (e *DecisionEngine) Cutoffs(scene SceneType) DecisionThresholds {
	if d, ok := e.cutoffs[scene]; ok {
		return d
	}
	return e.cutoffs[SceneDefault]
}

// EvaluateQuality renders the final decision for one run's metrics.
//
// Precedence: any metric at or above its reject cutoff forces REJECT
// (the first offender in WDD, WPO, SAI order names the decision, but
// every reject-level metric lands in the problem list). Otherwise two or
// more problematic metrics, or any metric tiered exactly review, yields
// NEED_REVIEW. Otherwise PASS. ERROR is never produced here; the
// orchestrator sets it when assessment could not run at all.
func (e *DecisionEngine) EvaluateQuality(final FinalMetrics, scene SceneType) *QualityAssessmentResult {
	metrics := MetricValues{WDD: final.WDD, WPO: final.WPO, SAI: final.SAI}
	cut := e.Cutoffs(scene)

	result := &QualityAssessmentResult{
		Metrics:        metrics,
		PerMetricLevel: make(map[MetricName]QualityLevel, len(metricOrder)),
		SceneType:      scene,
		Timestamp:      e.now(),
		ProcessingDetails: ProcessingDetails{
			FramesSampled: final.FramesSampled,
			FramesTotal:   final.FramesTotal,
			SamplingRates: final.SamplingRates,
		},
	}

	problemCount := 0
	reviewTier := false
	var rejected []MetricName
	for _, name := range metricOrder {
		value := metrics.Value(name)
		level := e.thresholds.EvaluateMetric(scene, name, value)
		result.PerMetricLevel[name] = level
		if level == LevelReview {
			reviewTier = true
		}
		if value >= cut.Reject.Value(name) {
			rejected = append(rejected, name)
			result.Problems = append(result.Problems,
				fmt.Sprintf("%s exceeds reject threshold: %.2f >= %.2f", name, value, cut.Reject.Value(name)))
		} else if value >= cut.Problem.Value(name) {
			problemCount++
			result.Problems = append(result.Problems,
				fmt.Sprintf("%s exceeds problem threshold: %.2f >= %.2f", name, value, cut.Problem.Value(name)))
		}
	}

	switch {
	case len(rejected) > 0:
		result.Decision = DecisionReject
		Opsf("decision REJECT (%s first): WDD=%.2f WPO=%.2f SAI=%.2f scene=%s",
			rejected[0], metrics.WDD, metrics.WPO, metrics.SAI, scene)
	case problemCount >= 2 || reviewTier:
		result.Decision = DecisionNeedReview
		Diagf("decision NEED_REVIEW (%d problems, review tier=%v) scene=%s",
			problemCount, reviewTier, scene)
	default:
		result.Decision = DecisionPass
	}
	return result
}

// ErrorResult builds the terminal ERROR document the orchestrator
// returns when a provider could not be initialized. No metrics are
// computed.
func (e *DecisionEngine) ErrorResult(scene SceneType, reason string) *QualityAssessmentResult {
	return &QualityAssessmentResult{
		Decision:       DecisionError,
		PerMetricLevel: map[MetricName]QualityLevel{},
		Problems:       []string{fmt.Sprintf("initialization failed: %s", reason)},
		SceneType:      scene,
		Timestamp:      e.now(),
	}
}
