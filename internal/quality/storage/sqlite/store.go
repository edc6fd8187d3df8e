package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
)

// StoredRun is the persisted row for one assessment run.
type StoredRun struct {
	RunID            string    `json:"run_id"`
	SceneID          string    `json:"scene_id"`
	SceneType        string    `json:"scene_type"`
	Status           string    `json:"status"`
	Decision         string    `json:"decision,omitempty"`
	WDD              float64   `json:"wdd"`
	WPO              float64   `json:"wpo"`
	SAI              float64   `json:"sai"`
	FramesSampled    int       `json:"frames_sampled"`
	FramesTotal      int       `json:"frames_total"`
	DetectionRate    int       `json:"detection_rate"`
	SegmentationRate int       `json:"segmentation_rate"`
	Problems         []string  `json:"problems,omitempty"`
	FrameStatsJSON   string    `json:"frame_stats_json,omitempty"`
	EarlyTerminated  bool      `json:"early_terminated"`
	EarlyTermReason  string    `json:"early_term_reason,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

// StoredFrame is the persisted row for one sampled frame.
type StoredFrame struct {
	RunID             string  `json:"run_id"`
	FrameIndex        int     `json:"frame_index"`
	WDDScore          float64 `json:"wdd_score"`
	WPOScore          float64 `json:"wpo_score"`
	HasSelfAppearance bool    `json:"has_self_appearance"`
	DetectionCount    int     `json:"detection_count"`
	SegmentationCount int     `json:"segmentation_count"`
}

// AssessmentStore persists assessment runs and their per-frame metrics.
// It implements quality.RunStore.
type AssessmentStore struct {
	db *sql.DB
}

// NewAssessmentStore creates a store backed by the given database.
func NewAssessmentStore(db *sql.DB) *AssessmentStore {
	return &AssessmentStore{db: db}
}

// SaveRun upserts a run record and replaces its frame rows in one
// transaction.
func (s *AssessmentStore) SaveRun(rec *quality.RunRecord, frames []quality.FrameMetrics) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() {
			if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
				// already committed, or rollback genuinely failed
				_ = err
			}
		}()

		var (
			decision        string
			wdd, wpo, sai   float64
			framesSampled   int
			framesTotal     int
			detRate         int
			segRate         int
			problemsJSON    sql.NullString
			frameStatsJSON  sql.NullString
			earlyTerminated bool
			earlyTermReason string
			completedAt     sql.NullInt64
		)
		if rec.Result != nil {
			decision = string(rec.Result.Decision)
			wdd = rec.Result.Metrics.WDD
			wpo = rec.Result.Metrics.WPO
			sai = rec.Result.Metrics.SAI
			framesSampled = rec.Result.ProcessingDetails.FramesSampled
			framesTotal = rec.Result.ProcessingDetails.FramesTotal
			detRate = rec.Result.ProcessingDetails.SamplingRates.Detection
			segRate = rec.Result.ProcessingDetails.SamplingRates.Segmentation
			if len(rec.Result.Problems) > 0 {
				data, err := json.Marshal(rec.Result.Problems)
				if err != nil {
					return fmt.Errorf("marshal problems: %w", err)
				}
				problemsJSON = sql.NullString{String: string(data), Valid: true}
			}
		}
		if rec.Stats != nil {
			earlyTerminated = rec.Stats.EarlyTerminated
			earlyTermReason = rec.Stats.EarlyTermReason
			if data, err := rec.Stats.FrameStats.ToJSON(); err == nil {
				frameStatsJSON = sql.NullString{String: data, Valid: true}
			}
		}
		if !rec.CompletedAt.IsZero() {
			completedAt = sql.NullInt64{Int64: rec.CompletedAt.UnixNano(), Valid: true}
		}

		_, err = tx.Exec(`
			INSERT INTO assessment_runs (
				run_id, scene_id, scene_type, status, decision,
				wdd, wpo, sai, frames_sampled, frames_total,
				detection_rate, segmentation_rate, problems_json, frame_stats_json,
				early_terminated, early_term_reason, error_message,
				started_at_unix_nanos, completed_at_unix_nanos
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				status = excluded.status,
				decision = excluded.decision,
				wdd = excluded.wdd, wpo = excluded.wpo, sai = excluded.sai,
				frames_sampled = excluded.frames_sampled,
				frames_total = excluded.frames_total,
				detection_rate = excluded.detection_rate,
				segmentation_rate = excluded.segmentation_rate,
				problems_json = excluded.problems_json,
				frame_stats_json = excluded.frame_stats_json,
				early_terminated = excluded.early_terminated,
				early_term_reason = excluded.early_term_reason,
				error_message = excluded.error_message,
				completed_at_unix_nanos = excluded.completed_at_unix_nanos`,
			rec.RunID, rec.SceneID, string(rec.SceneType), rec.Status, decision,
			wdd, wpo, sai, framesSampled, framesTotal,
			detRate, segRate, problemsJSON, frameStatsJSON,
			earlyTerminated, earlyTermReason, rec.Error,
			rec.StartedAt.UnixNano(), completedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM frame_metrics WHERE run_id = ?`, rec.RunID); err != nil {
			return fmt.Errorf("clear frame metrics: %w", err)
		}
		for _, fm := range frames {
			_, err := tx.Exec(`
				INSERT INTO frame_metrics (
					run_id, frame_index, wdd_score, wpo_score,
					has_self_appearance, detection_count, segmentation_count
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.RunID, fm.FrameIndex, fm.WDDScore, fm.WPOScore,
				fm.HasSelfAppearance, fm.DetectionCount, fm.SegmentationCount,
			)
			if err != nil {
				return fmt.Errorf("insert frame %d: %w", fm.FrameIndex, err)
			}
		}

		return tx.Commit()
	})
}

const storedRunColumns = `
	run_id, scene_id, scene_type, status, decision,
	wdd, wpo, sai, frames_sampled, frames_total,
	detection_rate, segmentation_rate, problems_json, frame_stats_json,
	early_terminated, early_term_reason, error_message,
	started_at_unix_nanos, completed_at_unix_nanos`

// GetRun returns a single stored run by ID.
func (s *AssessmentStore) GetRun(runID string) (*StoredRun, error) {
	row := s.db.QueryRow(`SELECT`+storedRunColumns+` FROM assessment_runs WHERE run_id = ?`, runID)
	run, err := scanStoredRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, err
}

// ListRuns returns the most recent limit runs, newest first.
func (s *AssessmentStore) ListRuns(limit int) ([]*StoredRun, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT`+storedRunColumns+`
		FROM assessment_runs
		ORDER BY started_at_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*StoredRun
	for rows.Next() {
		run, err := scanStoredRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FrameMetricsForRun returns a run's per-frame rows in frame order.
func (s *AssessmentStore) FrameMetricsForRun(runID string) ([]*StoredFrame, error) {
	rows, err := s.db.Query(`
		SELECT run_id, frame_index, wdd_score, wpo_score,
		       has_self_appearance, detection_count, segmentation_count
		FROM frame_metrics
		WHERE run_id = ?
		ORDER BY frame_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frame metrics: %w", err)
	}
	defer rows.Close()

	var frames []*StoredFrame
	for rows.Next() {
		var f StoredFrame
		if err := rows.Scan(&f.RunID, &f.FrameIndex, &f.WDDScore, &f.WPOScore,
			&f.HasSelfAppearance, &f.DetectionCount, &f.SegmentationCount); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// DeleteRun removes a run and (by cascade) its frame rows.
func (s *AssessmentStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM assessment_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStoredRun(row scanner) (*StoredRun, error) {
	var (
		r               StoredRun
		decision        sql.NullString
		problemsJSON    sql.NullString
		frameStatsJSON  sql.NullString
		earlyTermReason sql.NullString
		errorMessage    sql.NullString
		startedNanos    int64
		completedNanos  sql.NullInt64
	)
	err := row.Scan(
		&r.RunID, &r.SceneID, &r.SceneType, &r.Status, &decision,
		&r.WDD, &r.WPO, &r.SAI, &r.FramesSampled, &r.FramesTotal,
		&r.DetectionRate, &r.SegmentationRate, &problemsJSON, &frameStatsJSON,
		&r.EarlyTerminated, &earlyTermReason, &errorMessage,
		&startedNanos, &completedNanos,
	)
	if err != nil {
		return nil, err
	}
	r.Decision = decision.String
	r.FrameStatsJSON = frameStatsJSON.String
	r.EarlyTermReason = earlyTermReason.String
	r.ErrorMessage = errorMessage.String
	r.StartedAt = time.Unix(0, startedNanos)
	if completedNanos.Valid {
		r.CompletedAt = time.Unix(0, completedNanos.Int64)
	}
	if problemsJSON.Valid && problemsJSON.String != "" {
		if err := json.Unmarshal([]byte(problemsJSON.String), &r.Problems); err != nil {
			return nil, fmt.Errorf("parse problems for run %s: %w", r.RunID, err)
		}
	}
	return &r, nil
}
