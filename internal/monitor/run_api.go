package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/httputil"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
)

// decodeJSONBody decodes a JSON request body, rejecting unknown fields.
func decodeJSONBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleRuns handles GET /api/runs - list runs, newest first.
// Query params:
//
//	limit (optional, default 100)
//	source (optional, "live" or "stored"; default live registry,
//	        falling back to the store when the registry is empty)
func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	source := r.URL.Query().Get("source")
	if source == "stored" || (source == "" && ws.runs == nil) {
		ws.listStoredRuns(w, limit)
		return
	}
	if ws.runs == nil {
		httputil.InternalServerError(w, "no run registry configured")
		return
	}

	runs := ws.runs.ListRuns()
	if len(runs) == 0 && ws.store != nil && source == "" {
		ws.listStoredRuns(w, limit)
		return
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	httputil.WriteJSONOK(w, runs)
}

func (ws *WebServer) listStoredRuns(w http.ResponseWriter, limit int) {
	if ws.store == nil {
		httputil.InternalServerError(w, "no store configured")
		return
	}
	runs, err := ws.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// handleRunByID handles GET /api/runs/:id and GET /api/runs/:id/frames.
func (ws *WebServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.BadRequest(w, "missing run ID")
		return
	}
	runID := pathParts[0]

	if len(pathParts) > 1 && pathParts[1] == "frames" {
		ws.handleRunFrames(w, runID)
		return
	}
	if len(pathParts) > 1 {
		httputil.NotFound(w, "unknown run resource")
		return
	}

	// Live registry first, stored runs second.
	if ws.runs != nil {
		if rec, ok := ws.runs.GetRun(runID); ok {
			httputil.WriteJSONOK(w, rec)
			return
		}
	}
	if ws.store != nil {
		run, err := ws.store.GetRun(runID)
		if err == nil {
			httputil.WriteJSONOK(w, run)
			return
		}
	}
	httputil.NotFound(w, fmt.Sprintf("run %s not found", runID))
}

// handleRunFrames returns a run's persisted per-frame metric rows.
func (ws *WebServer) handleRunFrames(w http.ResponseWriter, runID string) {
	if ws.store == nil {
		httputil.InternalServerError(w, "no store configured for frame lookup")
		return
	}
	frames, err := ws.store.FrameMetricsForRun(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get frame metrics: %v", err))
		return
	}
	if len(frames) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no frame metrics for run %s", runID))
		return
	}
	httputil.WriteJSONOK(w, frames)
}

// handleRollups handles GET /api/rollups - daily decision counts.
func (ws *WebServer) handleRollups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.InternalServerError(w, "no database configured for rollups")
		return
	}
	rollups, err := storage.Rollups(ws.db.DB)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get rollups: %v", err))
		return
	}
	httputil.WriteJSONOK(w, rollups)
}

// handleAssess handles POST /api/assess - start an assessment run.
func (ws *WebServer) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.assess == nil {
		httputil.WriteJSONError(w, http.StatusNotImplemented, "no assessment backend configured")
		return
	}

	var req AssessRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Dir == "" {
		httputil.BadRequest(w, "missing 'dir' field")
		return
	}

	runID, err := ws.assess(r.Context(), req)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("start assessment: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"status": "started", "run_id": %q}`, runID)
}
