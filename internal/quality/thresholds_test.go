package quality

import "testing"

func TestNormalizeSceneType(t *testing.T) {
	tests := []struct {
		in   string
		want SceneType
	}{
		{"indoor", SceneIndoor},
		{"outdoor", SceneOutdoor},
		{"default", SceneDefault},
		{"", SceneDefault},
		{"warehouse", SceneDefault},
	}
	for _, tt := range tests {
		if got := NormalizeSceneType(tt.in); got != tt.want {
			t.Errorf("NormalizeSceneType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTierBoundsValid(t *testing.T) {
	valid := TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4}
	if !valid.Valid() {
		t.Error("ascending bounds reported invalid")
	}
	flat := TierBounds{Excellent: 1, Acceptable: 1, Review: 3, Reject: 4}
	if flat.Valid() {
		t.Error("non-strictly-ascending bounds reported valid")
	}
}

func TestEvaluateMetric(t *testing.T) {
	tm, err := NewThresholdManager(nil)
	if err != nil {
		t.Fatalf("NewThresholdManager: %v", err)
	}

	// Default-scene WDD bounds: 1.0 / 3.0 / 6.0 / 9.0.
	tests := []struct {
		name  string
		value float64
		want  QualityLevel
	}{
		{"well under excellent", 0.2, LevelExcellent},
		{"exactly at excellent bound", 1.0, LevelAcceptable},
		{"mid acceptable", 2.0, LevelAcceptable},
		{"review band", 4.0, LevelReview},
		{"exactly at review bound", 6.0, LevelReject},
		{"beyond every bound", 50.0, LevelReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tm.EvaluateMetric(SceneDefault, MetricWDD, tt.value); got != tt.want {
				t.Errorf("EvaluateMetric(WDD, %v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestThresholdManagerOverrides(t *testing.T) {
	custom := ThresholdTable{
		WDD: TierBounds{Excellent: 10, Acceptable: 20, Review: 30, Reject: 40},
		WPO: TierBounds{Excellent: 10, Acceptable: 20, Review: 30, Reject: 40},
		SAI: TierBounds{Excellent: 10, Acceptable: 20, Review: 30, Reject: 40},
	}
	tm, err := NewThresholdManager(map[SceneType]ThresholdTable{SceneIndoor: custom})
	if err != nil {
		t.Fatalf("NewThresholdManager: %v", err)
	}

	// Indoor uses the override, outdoor keeps its built-in table.
	if got := tm.EvaluateMetric(SceneIndoor, MetricWDD, 5.0); got != LevelExcellent {
		t.Errorf("overridden indoor WDD 5.0 = %v, want excellent", got)
	}
	if got := tm.EvaluateMetric(SceneOutdoor, MetricWDD, 5.0); got != LevelReview {
		t.Errorf("default outdoor WDD 5.0 = %v, want review", got)
	}
	// Unlisted scene falls back to default table.
	if got := tm.EvaluateMetric(SceneType("mystery"), MetricWDD, 0.5); got != LevelExcellent {
		t.Errorf("unknown scene WDD 0.5 = %v, want excellent", got)
	}
}

func TestThresholdManagerRejectsInvalidTables(t *testing.T) {
	bad := ThresholdTable{
		WDD: TierBounds{Excellent: 5, Acceptable: 4, Review: 3, Reject: 2},
		WPO: TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4},
		SAI: TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4},
	}
	if _, err := NewThresholdManager(map[SceneType]ThresholdTable{SceneDefault: bad}); err == nil {
		t.Error("descending tier bounds accepted")
	}

	good := ThresholdTable{
		WDD: TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4},
		WPO: TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4},
		SAI: TierBounds{Excellent: 1, Acceptable: 2, Review: 3, Reject: 4},
	}
	if _, err := NewThresholdManager(map[SceneType]ThresholdTable{SceneType("lab"): good}); err == nil {
		t.Error("unknown scene type accepted")
	}
}
