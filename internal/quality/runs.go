package quality

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/timeutil"
)

// Run lifecycle statuses as stored and listed.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is the registry's view of one assessment run.
type RunRecord struct {
	RunID       string                   `json:"run_id"`
	SceneID     string                   `json:"scene_id"`
	SceneType   SceneType                `json:"scene_type"`
	Status      string                   `json:"status"`
	TotalFrames int                      `json:"total_frames"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at,omitempty"`
	Result      *QualityAssessmentResult `json:"result,omitempty"`
	Stats       *RunStats                `json:"stats,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// RunStore persists completed runs. Implemented by the sqlite assessment
// store; nil is fine for ephemeral use.
type RunStore interface {
	SaveRun(rec *RunRecord, frames []FrameMetrics) error
}

// RunManager tracks assessment runs in flight and completed. Safe for
// concurrent use; the monitor API lists from it.
type RunManager struct {
	mu    sync.RWMutex
	runs  map[string]*RunRecord
	store RunStore
	clock timeutil.Clock
}

// NewRunManager creates a registry. store may be nil; clock defaults to
// the real clock.
func NewRunManager(store RunStore, clock timeutil.Clock) *RunManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunManager{
		runs:  make(map[string]*RunRecord),
		store: store,
		clock: clock,
	}
}

// StartRun registers a new run and returns its record.
func (m *RunManager) StartRun(sceneID string, sceneType SceneType, totalFrames int) *RunRecord {
	rec := &RunRecord{
		RunID:       uuid.New().String(),
		SceneID:     sceneID,
		SceneType:   sceneType,
		Status:      RunStatusRunning,
		TotalFrames: totalFrames,
		StartedAt:   m.clock.Now(),
	}
	m.mu.Lock()
	m.runs[rec.RunID] = rec
	m.mu.Unlock()
	Opsf("run %s started: scene=%s type=%s frames=%d", rec.RunID, sceneID, sceneType, totalFrames)
	return rec
}

// CompleteRun finalizes a run with its result and statistics, and
// persists it when a store is attached.
func (m *RunManager) CompleteRun(runID string, result *QualityAssessmentResult, stats RunStats, frames []FrameMetrics) error {
	m.mu.Lock()
	rec, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("run %s not found", runID)
	}
	rec.Status = RunStatusCompleted
	rec.CompletedAt = m.clock.Now()
	rec.Result = result
	rec.Stats = &stats
	m.mu.Unlock()

	Opsf("run %s completed: %s in %s", runID, result.Decision, stats.Elapsed.Round(time.Millisecond))

	if m.store != nil {
		if err := m.store.SaveRun(rec, frames); err != nil {
			return fmt.Errorf("persist run %s: %w", runID, err)
		}
	}
	return nil
}

// FailRun marks a run as failed with a reason, persisting when possible.
func (m *RunManager) FailRun(runID, reason string) error {
	m.mu.Lock()
	rec, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("run %s not found", runID)
	}
	rec.Status = RunStatusFailed
	rec.CompletedAt = m.clock.Now()
	rec.Error = reason
	m.mu.Unlock()

	Opsf("run %s failed: %s", runID, reason)

	if m.store != nil {
		if err := m.store.SaveRun(rec, nil); err != nil {
			return fmt.Errorf("persist failed run %s: %w", runID, err)
		}
	}
	return nil
}

// GetRun returns a copy of a run record.
func (m *RunManager) GetRun(runID string) (RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// ListRuns returns copies of all records, newest first.
func (m *RunManager) ListRuns() []RunRecord {
	m.mu.RLock()
	out := make([]RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		out = append(out, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ActiveCount returns the number of runs still in flight.
func (m *RunManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.runs {
		if rec.Status == RunStatusRunning {
			n++
		}
	}
	return n
}
