package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/db"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
)

func openTestStore(t *testing.T) (*AssessmentStore, *db.DB) {
	t.Helper()
	database, err := db.OpenDB(filepath.Join(t.TempDir(), "assessments.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return NewAssessmentStore(database.DB), database
}

func completedRun(runID string, started time.Time) *quality.RunRecord {
	return &quality.RunRecord{
		RunID:       runID,
		SceneID:     "scene-7",
		SceneType:   quality.SceneIndoor,
		Status:      quality.RunStatusCompleted,
		TotalFrames: 600,
		StartedAt:   started,
		CompletedAt: started.Add(90 * time.Second),
		Result: &quality.QualityAssessmentResult{
			Metrics:  quality.MetricValues{WDD: 2.4, WPO: 9.5, SAI: 3.0},
			Decision: quality.DecisionNeedReview,
			Problems: []string{"WPO 9.5% exceeds problem threshold 8.0%"},
			ProcessingDetails: quality.ProcessingDetails{
				FramesSampled: 200,
				FramesTotal:   600,
				SamplingRates: quality.SamplingRates{Detection: 3, Segmentation: 6},
			},
			SceneType: quality.SceneIndoor,
			Timestamp: started.Add(90 * time.Second),
		},
		Stats: &quality.RunStats{
			EarlyTerminated: false,
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store, _ := openTestStore(t)
	started := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)

	frames := []quality.FrameMetrics{
		{FrameIndex: 0, WDDScore: 1.5, DetectionCount: 1},
		{FrameIndex: 3, WDDScore: 3.0, WPOScore: 0.2, HasSelfAppearance: true, DetectionCount: 2, SegmentationCount: 1},
	}
	if err := store.SaveRun(completedRun("run-1", started), frames); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.SceneID != "scene-7" || got.SceneType != "indoor" {
		t.Errorf("scene = %s/%s", got.SceneID, got.SceneType)
	}
	if got.Decision != "NEED_REVIEW" {
		t.Errorf("Decision = %q", got.Decision)
	}
	if got.WDD != 2.4 || got.WPO != 9.5 || got.SAI != 3.0 {
		t.Errorf("metrics = %v/%v/%v", got.WDD, got.WPO, got.SAI)
	}
	if got.FramesSampled != 200 || got.FramesTotal != 600 {
		t.Errorf("frames = %d/%d", got.FramesSampled, got.FramesTotal)
	}
	if got.DetectionRate != 3 || got.SegmentationRate != 6 {
		t.Errorf("rates = %d/%d", got.DetectionRate, got.SegmentationRate)
	}
	if len(got.Problems) != 1 {
		t.Errorf("Problems = %v", got.Problems)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.CompletedAt.Equal(started.Add(90 * time.Second)) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
}

func TestSaveRunUpsert(t *testing.T) {
	store, _ := openTestStore(t)
	started := time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC)

	running := &quality.RunRecord{
		RunID:     "run-1",
		SceneID:   "scene-7",
		SceneType: quality.SceneIndoor,
		Status:    quality.RunStatusRunning,
		StartedAt: started,
	}
	if err := store.SaveRun(running, nil); err != nil {
		t.Fatalf("SaveRun running: %v", err)
	}

	if err := store.SaveRun(completedRun("run-1", started), []quality.FrameMetrics{{FrameIndex: 0}}); err != nil {
		t.Fatalf("SaveRun completed: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != quality.RunStatusCompleted {
		t.Errorf("Status = %q, want completed after upsert", got.Status)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("upsert created %d rows, want 1", len(runs))
	}
}

func TestSaveRunReplacesFrames(t *testing.T) {
	store, _ := openTestStore(t)
	started := time.Now().UTC()

	rec := completedRun("run-1", started)
	if err := store.SaveRun(rec, []quality.FrameMetrics{{FrameIndex: 0}, {FrameIndex: 5}, {FrameIndex: 9}}); err != nil {
		t.Fatalf("first SaveRun: %v", err)
	}
	if err := store.SaveRun(rec, []quality.FrameMetrics{{FrameIndex: 2, WDDScore: 4.5}}); err != nil {
		t.Fatalf("second SaveRun: %v", err)
	}

	frames, err := store.FrameMetricsForRun("run-1")
	if err != nil {
		t.Fatalf("FrameMetricsForRun: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %d rows, want re-save to replace them", len(frames))
	}
	if frames[0].FrameIndex != 2 || frames[0].WDDScore != 4.5 {
		t.Errorf("frame = %+v", frames[0])
	}
}

func TestFrameMetricsForRunOrder(t *testing.T) {
	store, _ := openTestStore(t)

	frames := []quality.FrameMetrics{
		{FrameIndex: 8}, {FrameIndex: 0}, {FrameIndex: 4},
	}
	if err := store.SaveRun(completedRun("run-1", time.Now().UTC()), frames); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.FrameMetricsForRun("run-1")
	if err != nil {
		t.Fatalf("FrameMetricsForRun: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames", len(got))
	}
	for i, want := range []int{0, 4, 8} {
		if got[i].FrameIndex != want {
			t.Errorf("frame %d index = %d, want %d", i, got[i].FrameIndex, want)
		}
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	base := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.SaveRun(completedRun(id, base.Add(time.Duration(i)*time.Hour)), nil); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs", len(runs))
	}
	if runs[0].RunID != "run-c" || runs[2].RunID != "run-a" {
		t.Errorf("runs not newest-first: %s, %s, %s", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}

	limited, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d runs", len(limited))
	}
}

func TestGetRunNotFound(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := store.GetRun("ghost"); err == nil {
		t.Error("unknown run must fail")
	}
}

func TestDeleteRun(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.SaveRun(completedRun("run-1", time.Now().UTC()), []quality.FrameMetrics{{FrameIndex: 0}}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	if err := store.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := store.GetRun("run-1"); err == nil {
		t.Error("run still readable after delete")
	}
	frames, err := store.FrameMetricsForRun("run-1")
	if err != nil {
		t.Fatalf("FrameMetricsForRun: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("frame rows survived delete: %d", len(frames))
	}

	if err := store.DeleteRun("run-1"); err == nil {
		t.Error("deleting a missing run must fail")
	}
}

func TestSaveFailedRun(t *testing.T) {
	store, _ := openTestStore(t)

	rec := &quality.RunRecord{
		RunID:       "run-err",
		SceneID:     "scene-2",
		SceneType:   quality.SceneOutdoor,
		Status:      quality.RunStatusFailed,
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
		Error:       "inference server unreachable",
	}
	if err := store.SaveRun(rec, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun("run-err")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != quality.RunStatusFailed {
		t.Errorf("Status = %q", got.Status)
	}
	if got.ErrorMessage != "inference server unreachable" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
	if got.Decision != "" {
		t.Errorf("Decision = %q, want empty for a failed run", got.Decision)
	}
}
