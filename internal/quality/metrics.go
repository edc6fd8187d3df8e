package quality

import (
	"fmt"
	"strings"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

// FrameMetrics is the per-frame accumulator. One instance exists per
// sampled frame index; detection and segmentation stages merge into the
// same instance as their results arrive.
type FrameMetrics struct {
	FrameIndex        int     `json:"frame_index"`
	WDDScore          float64 `json:"wdd_score"`
	WPOScore          float64 `json:"wpo_score"`
	HasSelfAppearance bool    `json:"has_self_appearance"`
	DetectionCount    int     `json:"detection_count"`
	SegmentationCount int     `json:"segmentation_count"`

	// hasDetection/hasSegmentation record which stages contributed, so
	// the final WPO denominator counts only frames with segmentation
	// data and a re-delivered detection result overwrites only its own
	// fields.
	hasDetection    bool
	hasSegmentation bool
}

// SamplingRates records the stride actually used for each stage.
type SamplingRates struct {
	Detection    int `json:"detection"`
	Segmentation int `json:"segmentation"`
}

// FinalMetrics is the aggregate outcome of one assessment run, derived
// once from the full FrameMetrics set. Read-only once produced.
type FinalMetrics struct {
	WDD           float64       `json:"wdd"`
	WPO           float64       `json:"wpo"` // percentage
	SAI           float64       `json:"sai"` // percentage
	FramesSampled int           `json:"frames_sampled"`
	FramesTotal   int           `json:"frames_total"`
	SamplingRates SamplingRates `json:"sampling_rates"`
}

// Hard early-termination thresholds. Deliberately scene-independent and
// coarser than the decision-engine tables: this is a safety valve for
// unambiguously hopeless captures, not the real decision.
const (
	earlyTerminationMinRatio = 0.20
	earlyTerminationWDD      = 12.0
	earlyTerminationWPO      = 40.0
	earlyTerminationSAI      = 35.0
)

// MetricsCalculator folds per-frame detection and segmentation results
// into streaming WDD/WPO/SAI state. It is not safe for concurrent use:
// the pipeline confines all mutation to a single aggregator goroutine.
type MetricsCalculator struct {
	regions *RegionManager
	frames  map[int]*FrameMetrics
}

// NewMetricsCalculator creates a calculator weighting results against the
// given region partition.
func NewMetricsCalculator(regions *RegionManager) *MetricsCalculator {
	return &MetricsCalculator{
		regions: regions,
		frames:  make(map[int]*FrameMetrics),
	}
}

// Regions returns the region manager the calculator weights against.
func (mc *MetricsCalculator) Regions() *RegionManager { return mc.regions }

// frame returns the FrameMetrics for an index, creating it on first use.
func (mc *MetricsCalculator) frame(index int) *FrameMetrics {
	fm, ok := mc.frames[index]
	if !ok {
		fm = &FrameMetrics{FrameIndex: index}
		mc.frames[index] = fm
	}
	return fm
}

// ProcessDetectionFrame folds one frame's detection result into the
// accumulator. Detections of non-qualifying classes are ignored. A
// frame-level upstream error yields a zero-valued entry for the frame
// (logged, never fatal). Calling twice for the same index overwrites the
// detection-derived fields and preserves segmentation-derived ones.
func (mc *MetricsCalculator) ProcessDetectionFrame(index int, result vision.DetectionFrameResult) *FrameMetrics {
	fm := mc.frame(index)
	fm.WDDScore = 0
	fm.DetectionCount = 0
	fm.HasSelfAppearance = false
	fm.hasDetection = true

	if result.Err != "" {
		Opsf("frame %d: detection error: %s", index, result.Err)
		return fm
	}

	for _, det := range result.Detections {
		if !det.Class.Qualifying() {
			continue
		}
		weights := mc.regions.BBoxRegionWeights(det.Box)
		fm.WDDScore += mc.regions.WeightedValue(weights, 1.0)
		fm.DetectionCount++

		if det.Class == vision.ClassPerson &&
			mc.regions.IsLargeDetectionInSelfZone(det.Box, DefaultSelfZoneAreaThreshold) {
			fm.HasSelfAppearance = true
		}
	}
	Tracef("frame %d: %d qualifying detections, wdd=%.4f self=%v",
		index, fm.DetectionCount, fm.WDDScore, fm.HasSelfAppearance)
	return fm
}

// ProcessSegmentationFrame folds one frame's segmentation result into the
// accumulator, merging into any existing entry for the index. Masked
// entries are weighted by their mask point sample with base mask
// area/frame area; unmasked entries fall back to the bbox centroid with
// base bbox area/frame area.
func (mc *MetricsCalculator) ProcessSegmentationFrame(index int, result vision.SegmentationFrameResult) *FrameMetrics {
	fm := mc.frame(index)
	fm.WPOScore = 0
	fm.SegmentationCount = 0

	if result.Err != "" {
		Opsf("frame %d: segmentation error: %s", index, result.Err)
		return fm
	}
	fm.hasSegmentation = true

	area := mc.regions.FrameArea()
	for _, seg := range result.Segmentations {
		if !seg.Class.Qualifying() {
			continue
		}
		var weights RegionWeights
		var base float64
		if seg.HasMask {
			weights = mc.regions.MaskRegionWeights(seg.MaskPointSample)
			base = float64(seg.MaskArea) / area
		} else {
			weights = mc.regions.BBoxRegionWeights(seg.Box)
			base = seg.Box.Area() / area
		}
		fm.WPOScore += mc.regions.WeightedValue(weights, base)
		fm.SegmentationCount++
	}
	Tracef("frame %d: %d qualifying segmentations, wpo=%.4f",
		index, fm.SegmentationCount, fm.WPOScore)
	return fm
}

// SampledFrameCount returns the number of frames with any accumulated
// metrics.
func (mc *MetricsCalculator) SampledFrameCount() int { return len(mc.frames) }

// FrameMetricsSnapshot returns a copy of every per-frame entry, for
// persistence and charting. Order is unspecified.
func (mc *MetricsCalculator) FrameMetricsSnapshot() []FrameMetrics {
	out := make([]FrameMetrics, 0, len(mc.frames))
	for _, fm := range mc.frames {
		out = append(out, *fm)
	}
	return out
}

// CalculateFinalMetrics reduces the accumulated per-frame state to the
// three aggregate metrics.
//
// The WDD denominator max(detectionFramesCount, framesWithAnyMetrics) is
// load-bearing: provisional early-termination recomputation and the final
// computation must normalize identically or scores stop being comparable
// across runs. Do not simplify it.
func (mc *MetricsCalculator) CalculateFinalMetrics(totalFrames int, rates SamplingRates) FinalMetrics {
	final := FinalMetrics{
		FramesSampled: len(mc.frames),
		FramesTotal:   totalFrames,
		SamplingRates: rates,
	}
	if len(mc.frames) == 0 {
		return final
	}

	var (
		wddSum            float64
		wpoSum            float64
		detectionFrames   int
		segmentationCount int
		selfFrames        int
	)
	for _, fm := range mc.frames {
		wddSum += fm.WDDScore
		if fm.hasDetection {
			detectionFrames++
		}
		if fm.hasSegmentation {
			wpoSum += fm.WPOScore
			segmentationCount++
		}
		if fm.HasSelfAppearance {
			selfFrames++
		}
	}

	denom := detectionFrames
	if len(mc.frames) > denom {
		denom = len(mc.frames)
	}
	if denom > 0 {
		final.WDD = wddSum / float64(denom)
	}
	if segmentationCount > 0 {
		final.WPO = wpoSum / float64(segmentationCount) * 100
	}
	final.SAI = float64(selfFrames) / float64(len(mc.frames)) * 100
	return final
}

// CheckEarlyTermination evaluates whether provisional metrics already
// condemn the capture. Below a 20% processed ratio it never triggers:
// too little evidence. Otherwise it recomputes provisional final metrics
// as if the run had sampled/ratio total frames and compares against the
// hard thresholds. The reason string names every offending metric.
func (mc *MetricsCalculator) CheckEarlyTermination(processedRatio float64) (bool, string) {
	if processedRatio < earlyTerminationMinRatio || len(mc.frames) == 0 {
		return false, ""
	}

	provisionalTotal := int(float64(len(mc.frames)) / processedRatio)
	m := mc.CalculateFinalMetrics(provisionalTotal, SamplingRates{})

	var reasons []string
	if m.WDD > earlyTerminationWDD {
		reasons = append(reasons, fmt.Sprintf("WDD %.2f exceeds %.0f", m.WDD, earlyTerminationWDD))
	}
	if m.WPO > earlyTerminationWPO {
		reasons = append(reasons, fmt.Sprintf("WPO %.2f%% exceeds %.0f%%", m.WPO, earlyTerminationWPO))
	}
	if m.SAI > earlyTerminationSAI {
		reasons = append(reasons, fmt.Sprintf("SAI %.2f%% exceeds %.0f%%", m.SAI, earlyTerminationSAI))
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// Reset clears all per-frame state. Must be called before reusing the
// calculator for another assessment.
func (mc *MetricsCalculator) Reset() {
	mc.frames = make(map[int]*FrameMetrics)
}
