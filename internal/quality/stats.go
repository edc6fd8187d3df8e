package quality

import (
	"encoding/json"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FrameScoreStats are descriptive statistics over the per-frame scores
// of one run, stored alongside the result for later comparison between
// captures of the same site.
type FrameScoreStats struct {
	WDDMean   float64 `json:"wdd_mean"`
	WDDStddev float64 `json:"wdd_stddev"`
	WDDP95    float64 `json:"wdd_p95"`
	WPOMean   float64 `json:"wpo_mean"`
	WPOStddev float64 `json:"wpo_stddev"`
	WPOP95    float64 `json:"wpo_p95"`

	FramesWithDetections int `json:"frames_with_detections"`
	FramesSampled        int `json:"frames_sampled"`
}

// ComputeFrameScoreStats reduces a run's per-frame metrics to
// distribution statistics. An empty input yields the zero value.
func ComputeFrameScoreStats(frames []FrameMetrics) FrameScoreStats {
	var s FrameScoreStats
	s.FramesSampled = len(frames)
	if len(frames) == 0 {
		return s
	}

	wdd := make([]float64, 0, len(frames))
	wpo := make([]float64, 0, len(frames))
	for _, fm := range frames {
		wdd = append(wdd, fm.WDDScore)
		wpo = append(wpo, fm.WPOScore)
		if fm.DetectionCount > 0 {
			s.FramesWithDetections++
		}
	}

	s.WDDMean, s.WDDStddev = stat.MeanStdDev(wdd, nil)
	s.WPOMean, s.WPOStddev = stat.MeanStdDev(wpo, nil)

	// stat.Quantile needs sorted input.
	sort.Float64s(wdd)
	sort.Float64s(wpo)
	s.WDDP95 = stat.Quantile(0.95, stat.Empirical, wdd, nil)
	s.WPOP95 = stat.Quantile(0.95, stat.Empirical, wpo, nil)

	// A single-sample run has no spread; MeanStdDev reports NaN.
	if len(frames) == 1 {
		s.WDDStddev = 0
		s.WPOStddev = 0
	}
	return s
}

// ToJSON serializes the stats for database storage.
func (s FrameScoreStats) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
