package quality

import (
	"math"
	"testing"
)

func TestComputeFrameScoreStats(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		s := ComputeFrameScoreStats(nil)
		if s.FramesSampled != 0 || s.WDDMean != 0 || s.WDDStddev != 0 {
			t.Errorf("empty stats not zero: %+v", s)
		}
	})

	t.Run("single sample has no spread", func(t *testing.T) {
		s := ComputeFrameScoreStats([]FrameMetrics{{WDDScore: 4.0, WPOScore: 0.5}})
		if s.WDDMean != 4.0 {
			t.Errorf("WDDMean = %v, want 4.0", s.WDDMean)
		}
		if s.WDDStddev != 0 || s.WPOStddev != 0 {
			t.Errorf("single-sample stddev must be 0, got %v / %v", s.WDDStddev, s.WPOStddev)
		}
	})

	t.Run("mean and spread", func(t *testing.T) {
		frames := []FrameMetrics{
			{WDDScore: 1.0, DetectionCount: 1},
			{WDDScore: 2.0, DetectionCount: 2},
			{WDDScore: 3.0},
		}
		s := ComputeFrameScoreStats(frames)
		if math.Abs(s.WDDMean-2.0) > 1e-12 {
			t.Errorf("WDDMean = %v, want 2.0", s.WDDMean)
		}
		// Sample standard deviation of {1,2,3} is 1.
		if math.Abs(s.WDDStddev-1.0) > 1e-12 {
			t.Errorf("WDDStddev = %v, want 1.0", s.WDDStddev)
		}
		if s.FramesWithDetections != 2 {
			t.Errorf("FramesWithDetections = %d, want 2", s.FramesWithDetections)
		}
		if s.FramesSampled != 3 {
			t.Errorf("FramesSampled = %d, want 3", s.FramesSampled)
		}
	})

	t.Run("p95 tracks the distribution tail", func(t *testing.T) {
		frames := make([]FrameMetrics, 100)
		for i := range frames {
			frames[i] = FrameMetrics{WDDScore: float64(i)}
		}
		s := ComputeFrameScoreStats(frames)
		if s.WDDP95 < 90 || s.WDDP95 > 99 {
			t.Errorf("WDDP95 = %v, want near the top of 0..99", s.WDDP95)
		}
	})
}

func TestFrameScoreStatsToJSON(t *testing.T) {
	s := FrameScoreStats{WDDMean: 1.5, FramesSampled: 10}
	doc, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if doc == "" || doc[0] != '{' {
		t.Errorf("unexpected JSON document: %q", doc)
	}
}
