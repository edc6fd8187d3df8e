// Package monitor serves the HTTP interface of the assessment daemon:
// health, a status page, the runs API, chart views and debug routes.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/db"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/telemetry"
)

//go:embed status.html
var StatusHTML embed.FS

// AssessRequest is the body of POST /api/assess.
type AssessRequest struct {
	Dir                     string `json:"dir"`
	SceneID                 string `json:"scene_id"`
	SceneType               string `json:"scene_type"`
	Workers                 int    `json:"workers,omitempty"`
	DisableEarlyTermination bool   `json:"disable_early_termination,omitempty"`
}

// AssessFunc starts an assessment run asynchronously and returns its
// run ID. The daemon wires this to its pipeline builder.
type AssessFunc func(ctx context.Context, req AssessRequest) (string, error)

// WebServer handles the HTTP interface for monitoring assessment runs.
type WebServer struct {
	address   string
	runs      *quality.RunManager
	store     *storage.AssessmentStore
	db        *db.DB
	metrics   *telemetry.Metrics
	assess    AssessFunc
	version   string
	startedAt time.Time
	server    *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Runs    *quality.RunManager
	Store   *storage.AssessmentStore
	DB      *db.DB
	Metrics *telemetry.Metrics
	Assess  AssessFunc
	Version string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	ws := &WebServer{
		address:   config.Address,
		runs:      config.Runs,
		store:     config.Store,
		db:        config.DB,
		metrics:   config.Metrics,
		assess:    config.Assess,
		version:   config.Version,
		startedAt: time.Now(),
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: mux,
	}
	return ws, nil
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/api/runs/", ws.handleRunByID)
	mux.HandleFunc("/api/rollups", ws.handleRollups)
	mux.HandleFunc("/api/assess", ws.handleAssess)
	mux.HandleFunc("/charts/metrics", ws.handleMetricsChart)
	mux.HandleFunc("/charts/decisions", ws.handleDecisionsChart)

	if ws.metrics != nil {
		mux.Handle("/metrics", ws.metrics.Handler())
	}
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return mux, nil
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "assess", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus renders the main status page.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var recent []quality.RunRecord
	activeRuns := 0
	if ws.runs != nil {
		recent = ws.runs.ListRuns()
		if len(recent) > 20 {
			recent = recent[:20]
		}
		activeRuns = ws.runs.ActiveCount()
	}

	decisions := map[string]uint64{}
	if ws.metrics != nil {
		decisions = ws.metrics.DecisionCounts()
	}

	data := struct {
		HTTPAddress string
		Version     string
		Uptime      string
		ActiveRuns  int
		Decisions   map[string]uint64
		RecentRuns  []quality.RunRecord
		HasDB       bool
	}{
		HTTPAddress: ws.address,
		Version:     ws.version,
		Uptime:      time.Since(ws.startedAt).Round(time.Second).String(),
		ActiveRuns:  activeRuns,
		Decisions:   decisions,
		RecentRuns:  recent,
		HasDB:       ws.db != nil,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
