package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DecisionRollupWorker periodically recomputes per-day decision counts
// from assessment_runs into decision_rollups. Designed to run on a
// coarse interval; each pass rebuilds the lookback window so late or
// re-saved runs are absorbed.
type DecisionRollupWorker struct {
	DB       *sql.DB
	Interval time.Duration // how often to run (e.g., 15m)
	Window   time.Duration // lookback window (e.g., 48h)
	StopChan chan struct{}
}

func NewDecisionRollupWorker(db *sql.DB) *DecisionRollupWorker {
	return &DecisionRollupWorker{
		DB:       db,
		Interval: 15 * time.Minute,
		Window:   48 * time.Hour,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *DecisionRollupWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					fmt.Printf("decision rollup worker run error: %v\n", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *DecisionRollupWorker) Stop() {
	close(w.StopChan)
}

// RunOnce rebuilds rollups for the last w.Window.
func (w *DecisionRollupWorker) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.Window)
	return w.RunSince(ctx, cutoff)
}

// RunFullHistory rebuilds rollups over all stored runs.
func (w *DecisionRollupWorker) RunFullHistory(ctx context.Context) error {
	return w.RunSince(ctx, time.Time{})
}

// RunSince deletes and re-inserts rollup rows for days touched on or
// after cutoff. A zero cutoff covers the full table.
func (w *DecisionRollupWorker) RunSince(ctx context.Context, cutoff time.Time) error {
	return retryOnBusy(func() error {
		tx, err := w.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		cutoffNanos := cutoff.UnixNano()
		if cutoff.IsZero() {
			cutoffNanos = 0
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM decision_rollups
			WHERE day IN (
				SELECT DISTINCT date(started_at_unix_nanos / 1000000000, 'unixepoch')
				FROM assessment_runs
				WHERE started_at_unix_nanos >= ? AND decision != ''
			)`, cutoffNanos); err != nil {
			return fmt.Errorf("clear rollups: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decision_rollups (day, decision, run_count, updated_at_unix_nanos)
			SELECT date(started_at_unix_nanos / 1000000000, 'unixepoch') AS day,
			       decision,
			       COUNT(*),
			       ?
			FROM assessment_runs
			WHERE decision != ''
			  AND date(started_at_unix_nanos / 1000000000, 'unixepoch') IN (
				SELECT DISTINCT date(started_at_unix_nanos / 1000000000, 'unixepoch')
				FROM assessment_runs
				WHERE started_at_unix_nanos >= ?
			  )
			GROUP BY day, decision`,
			time.Now().UTC().UnixNano(), cutoffNanos); err != nil {
			return fmt.Errorf("insert rollups: %w", err)
		}

		return tx.Commit()
	})
}

// DecisionRollup is one per-day, per-decision count.
type DecisionRollup struct {
	Day      string `json:"day"`
	Decision string `json:"decision"`
	RunCount int    `json:"run_count"`
}

// Rollups returns all rollup rows, newest day first.
func Rollups(db *sql.DB) ([]DecisionRollup, error) {
	rows, err := db.Query(`
		SELECT day, decision, run_count
		FROM decision_rollups
		ORDER BY day DESC, decision ASC`)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var out []DecisionRollup
	for rows.Next() {
		var r DecisionRollup
		if err := rows.Scan(&r.Day, &r.Decision, &r.RunCount); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
