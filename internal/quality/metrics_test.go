package quality

import (
	"math"
	"strings"
	"testing"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

// centerBox is a detection box whose centroid sits at the frame center
// of a 1000x1000 frame.
var centerBox = vision.BBox{X1: 450, Y1: 450, X2: 550, Y2: 550}

func newTestCalculator() *MetricsCalculator {
	return NewMetricsCalculator(NewRegionManager(1000, 1000))
}

func TestProcessDetectionFrame(t *testing.T) {
	t.Run("qualifying classes only", func(t *testing.T) {
		calc := newTestCalculator()
		fm := calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{
			Detections: []vision.Detection{
				{Box: centerBox, Class: vision.ClassPerson, Confidence: 0.9},
				{Box: centerBox, Class: vision.ClassDog, Confidence: 0.8},
				{Box: centerBox, Class: vision.ClassCar, Confidence: 0.95},
				{Box: centerBox, Class: vision.ClassBicycle, Confidence: 0.7},
			},
		})
		if fm.DetectionCount != 2 {
			t.Errorf("DetectionCount = %d, want 2 (person and dog only)", fm.DetectionCount)
		}
		// Two core-centroid detections at weight 3.0 each.
		if math.Abs(fm.WDDScore-6.0) > 1e-12 {
			t.Errorf("WDDScore = %v, want 6.0", fm.WDDScore)
		}
	})

	t.Run("frame error yields zero-valued entry", func(t *testing.T) {
		calc := newTestCalculator()
		fm := calc.ProcessDetectionFrame(3, vision.DetectionFrameResult{Err: "inference timeout"})
		if fm.WDDScore != 0 || fm.DetectionCount != 0 || fm.HasSelfAppearance {
			t.Errorf("error frame not zero-valued: %+v", fm)
		}
		if calc.SampledFrameCount() != 1 {
			t.Errorf("error frame should still count as sampled, got %d", calc.SampledFrameCount())
		}
	})

	t.Run("self appearance flag", func(t *testing.T) {
		calc := newTestCalculator()
		bigLowBox := vision.BBox{X1: 200, Y1: 700, X2: 800, Y2: 1000}
		fm := calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{
			Detections: []vision.Detection{{Box: bigLowBox, Class: vision.ClassPerson}},
		})
		if !fm.HasSelfAppearance {
			t.Error("large low person should set HasSelfAppearance")
		}

		// A dog in the same place is not the photographer.
		fm = calc.ProcessDetectionFrame(1, vision.DetectionFrameResult{
			Detections: []vision.Detection{{Box: bigLowBox, Class: vision.ClassDog}},
		})
		if fm.HasSelfAppearance {
			t.Error("dog must not set HasSelfAppearance")
		}
	})

	t.Run("reprocessing overwrites detection fields and preserves segmentation", func(t *testing.T) {
		calc := newTestCalculator()
		calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{
			Detections: []vision.Detection{{Box: centerBox, Class: vision.ClassPerson}},
		})
		calc.ProcessSegmentationFrame(0, vision.SegmentationFrameResult{
			Segmentations: []vision.Segmentation{{
				Detection: vision.Detection{Box: centerBox, Class: vision.ClassPerson},
			}},
		})
		before := calc.FrameMetricsSnapshot()[0].WPOScore

		fm := calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{})
		if fm.WDDScore != 0 || fm.DetectionCount != 0 {
			t.Errorf("redelivery did not reset detection fields: %+v", fm)
		}
		if fm.WPOScore != before || fm.SegmentationCount != 1 {
			t.Errorf("redelivery clobbered segmentation fields: %+v", fm)
		}
		if calc.SampledFrameCount() != 1 {
			t.Errorf("reprocessing must not duplicate the frame, got %d", calc.SampledFrameCount())
		}
	})
}

func TestProcessSegmentationFrame(t *testing.T) {
	t.Run("mask path uses mask area and point sample", func(t *testing.T) {
		calc := newTestCalculator()
		fm := calc.ProcessSegmentationFrame(0, vision.SegmentationFrameResult{
			Segmentations: []vision.Segmentation{{
				Detection:       vision.Detection{Box: centerBox, Class: vision.ClassPerson},
				HasMask:         true,
				MaskArea:        100000, // a tenth of the frame
				MaskPointSample: []vision.Point{{X: 500, Y: 500}},
			}},
		})
		// base 0.1, all points in core (weight 3.0).
		if math.Abs(fm.WPOScore-0.3) > 1e-12 {
			t.Errorf("WPOScore = %v, want 0.3", fm.WPOScore)
		}
	})

	t.Run("maskless entries fall back to bbox", func(t *testing.T) {
		calc := newTestCalculator()
		fm := calc.ProcessSegmentationFrame(0, vision.SegmentationFrameResult{
			Segmentations: []vision.Segmentation{{
				Detection: vision.Detection{Box: centerBox, Class: vision.ClassPerson},
			}},
		})
		// bbox area 10000 over 1e6 = 0.01, core weight 3.0.
		if math.Abs(fm.WPOScore-0.03) > 1e-12 {
			t.Errorf("WPOScore = %v, want 0.03", fm.WPOScore)
		}
	})

	t.Run("masked entry with empty point sample contributes nothing", func(t *testing.T) {
		calc := newTestCalculator()
		fm := calc.ProcessSegmentationFrame(0, vision.SegmentationFrameResult{
			Segmentations: []vision.Segmentation{{
				Detection: vision.Detection{Box: centerBox, Class: vision.ClassPerson},
				HasMask:   true,
				MaskArea:  100000,
			}},
		})
		if fm.WPOScore != 0 {
			t.Errorf("WPOScore = %v, want 0 for empty point sample", fm.WPOScore)
		}
		if fm.SegmentationCount != 1 {
			t.Errorf("SegmentationCount = %d, want 1", fm.SegmentationCount)
		}
	})
}

func TestCalculateFinalMetrics(t *testing.T) {
	t.Run("empty calculator", func(t *testing.T) {
		calc := newTestCalculator()
		m := calc.CalculateFinalMetrics(100, SamplingRates{Detection: 1, Segmentation: 2})
		if m.WDD != 0 || m.WPO != 0 || m.SAI != 0 {
			t.Errorf("empty metrics not zero: %+v", m)
		}
		if m.FramesTotal != 100 || m.FramesSampled != 0 {
			t.Errorf("frame counts wrong: %+v", m)
		}
	})

	t.Run("wdd averages over sampled frames", func(t *testing.T) {
		calc := newTestCalculator()
		calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{
			Detections: []vision.Detection{{Box: centerBox, Class: vision.ClassPerson}},
		})
		calc.ProcessDetectionFrame(10, vision.DetectionFrameResult{})
		m := calc.CalculateFinalMetrics(20, SamplingRates{Detection: 10})
		// One core detection (3.0) over 2 sampled frames.
		if math.Abs(m.WDD-1.5) > 1e-12 {
			t.Errorf("WDD = %v, want 1.5", m.WDD)
		}
	})

	t.Run("wdd denominator counts segmentation-only frames", func(t *testing.T) {
		calc := newTestCalculator()
		calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{
			Detections: []vision.Detection{{Box: centerBox, Class: vision.ClassPerson}},
		})
		// A frame that only saw segmentation still widens the denominator.
		calc.ProcessSegmentationFrame(5, vision.SegmentationFrameResult{})
		m := calc.CalculateFinalMetrics(20, SamplingRates{})
		if math.Abs(m.WDD-1.5) > 1e-12 {
			t.Errorf("WDD = %v, want 1.5 (denominator 2)", m.WDD)
		}
	})

	t.Run("wpo averages only frames with segmentation data", func(t *testing.T) {
		calc := newTestCalculator()
		calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{})
		calc.ProcessSegmentationFrame(0, vision.SegmentationFrameResult{
			Segmentations: []vision.Segmentation{{
				Detection: vision.Detection{Box: centerBox, Class: vision.ClassPerson},
			}},
		})
		calc.ProcessDetectionFrame(1, vision.DetectionFrameResult{})
		m := calc.CalculateFinalMetrics(10, SamplingRates{})
		// One segmentation frame with score 0.03, times 100.
		if math.Abs(m.WPO-3.0) > 1e-9 {
			t.Errorf("WPO = %v, want 3.0", m.WPO)
		}
	})

	t.Run("sai of one hundred", func(t *testing.T) {
		calc := newTestCalculator()
		bigLowBox := vision.BBox{X1: 200, Y1: 700, X2: 800, Y2: 1000}
		for i := 0; i < 4; i++ {
			calc.ProcessDetectionFrame(i, vision.DetectionFrameResult{
				Detections: []vision.Detection{{Box: bigLowBox, Class: vision.ClassPerson}},
			})
		}
		m := calc.CalculateFinalMetrics(4, SamplingRates{})
		if m.SAI != 100.0 {
			t.Errorf("SAI = %v, want 100", m.SAI)
		}
	})
}

func TestCheckEarlyTermination(t *testing.T) {
	hopeless := func(calc *MetricsCalculator, frames int) {
		// 5 core persons per frame = WDD 15 per frame, far past the hard
		// threshold of 12.
		dets := make([]vision.Detection, 5)
		for i := range dets {
			dets[i] = vision.Detection{Box: centerBox, Class: vision.ClassPerson}
		}
		for i := 0; i < frames; i++ {
			calc.ProcessDetectionFrame(i, vision.DetectionFrameResult{Detections: dets})
		}
	}

	t.Run("below minimum ratio never triggers", func(t *testing.T) {
		calc := newTestCalculator()
		hopeless(calc, 10)
		hit, reason := calc.CheckEarlyTermination(0.1)
		if hit {
			t.Errorf("terminated below the evidence floor: %s", reason)
		}
	})

	t.Run("triggers past the floor on hopeless capture", func(t *testing.T) {
		calc := newTestCalculator()
		hopeless(calc, 10)
		hit, reason := calc.CheckEarlyTermination(0.5)
		if !hit {
			t.Fatal("expected early termination")
		}
		if !strings.Contains(reason, "WDD") {
			t.Errorf("reason should name WDD, got %q", reason)
		}
	})

	t.Run("clean capture never triggers", func(t *testing.T) {
		calc := newTestCalculator()
		for i := 0; i < 10; i++ {
			calc.ProcessDetectionFrame(i, vision.DetectionFrameResult{})
		}
		if hit, reason := calc.CheckEarlyTermination(0.5); hit {
			t.Errorf("clean capture terminated: %s", reason)
		}
	})

	t.Run("empty calculator never triggers", func(t *testing.T) {
		calc := newTestCalculator()
		if hit, _ := calc.CheckEarlyTermination(0.9); hit {
			t.Error("empty calculator terminated")
		}
	})
}

func TestReset(t *testing.T) {
	calc := newTestCalculator()
	calc.ProcessDetectionFrame(0, vision.DetectionFrameResult{})
	calc.Reset()
	if calc.SampledFrameCount() != 0 {
		t.Errorf("SampledFrameCount after Reset = %d, want 0", calc.SampledFrameCount())
	}
}
