package quality

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Decision is the categorical outcome of one assessment run.
type Decision string

const (
	// DecisionPass clears the capture for reconstruction.
	DecisionPass Decision = "PASS"
	// DecisionNeedReview routes the capture to a human reviewer.
	DecisionNeedReview Decision = "NEED_REVIEW"
	// DecisionReject disqualifies the capture outright.
	DecisionReject Decision = "REJECT"
	// DecisionError means the assessment itself could not run.
	DecisionError Decision = "ERROR"
)

// MetricValues groups one value per aggregate metric.
type MetricValues struct {
	WDD float64 `json:"WDD"`
	WPO float64 `json:"WPO"`
	SAI float64 `json:"SAI"`
}

// Value returns the entry for a metric name.
func (m MetricValues) Value(name MetricName) float64 {
	switch name {
	case MetricWDD:
		return m.WDD
	case MetricWPO:
		return m.WPO
	default:
		return m.SAI
	}
}

// ProcessingDetails summarizes how much work the run performed.
type ProcessingDetails struct {
	FramesSampled int           `json:"frames_sampled"`
	FramesTotal   int           `json:"frames_total"`
	SamplingRates SamplingRates `json:"sampling_rates"`
}

// QualityAssessmentResult is the final document produced once per
// validated capture. Immutable; owned by the caller after return.
type QualityAssessmentResult struct {
	Metrics           MetricValues                `json:"metrics"`
	Decision          Decision                    `json:"decision"`
	PerMetricLevel    map[MetricName]QualityLevel `json:"per_metric_level"`
	Problems          []string                    `json:"problems_found"`
	ProcessingDetails ProcessingDetails           `json:"processing_details"`
	SceneType         SceneType                   `json:"scene_type"`
	Timestamp         time.Time                   `json:"timestamp"`
}

// ToJSON renders the full structured document.
func (r *QualityAssessmentResult) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseQualityAssessmentResult deserializes a stored result document.
func ParseQualityAssessmentResult(jsonStr string) (*QualityAssessmentResult, error) {
	var r QualityAssessmentResult
	if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Summary renders the compact one-line form: rounded metrics, decision
// and timestamp.
func (r *QualityAssessmentResult) Summary() string {
	return fmt.Sprintf("%s WDD=%.2f WPO=%.1f%% SAI=%.1f%% at %s",
		r.Decision, r.Metrics.WDD, r.Metrics.WPO, r.Metrics.SAI,
		r.Timestamp.Format(time.RFC3339))
}

// Table renders a fixed-width text table for terminal output.
func (r *QualityAssessmentResult) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %10s %-12s\n", "METRIC", "VALUE", "LEVEL")
	for _, name := range metricOrder {
		fmt.Fprintf(&b, "%-12s %10.2f %-12s\n", name, r.Metrics.Value(name), r.PerMetricLevel[name])
	}
	fmt.Fprintf(&b, "%-12s %10s %-12s\n", "decision", "", r.Decision)
	fmt.Fprintf(&b, "frames: %d/%d sampled (rates det=%d seg=%d)\n",
		r.ProcessingDetails.FramesSampled, r.ProcessingDetails.FramesTotal,
		r.ProcessingDetails.SamplingRates.Detection, r.ProcessingDetails.SamplingRates.Segmentation)
	if len(r.Problems) > 0 {
		fmt.Fprintf(&b, "problems:\n")
		for _, p := range r.Problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	return b.String()
}
