// Command assessd runs the assessment daemon: an HTTP API that accepts
// assessment requests, a run registry, SQLite persistence with daily
// decision rollups, and monitoring endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/capture"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/config"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/db"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/monitor"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/telemetry"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/version"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

var (
	listen         = flag.String("listen", ":8082", "HTTP listen address")
	dbFile         = flag.String("db", "assessments.db", "Path to the SQLite database file")
	configFile     = flag.String("config", "", "Path to engine config JSON")
	serverHost     = flag.String("server", "", "Inference server host:port (websocket); empty runs offline")
	rollupInterval = flag.Duration("rollup-interval", 15*time.Minute, "Decision rollup worker interval")
	debugLogs      = flag.Bool("debug", false, "Enable diagnostic logging")
	traceLogs      = flag.Bool("trace", false, "Enable per-frame trace logging (implies -debug)")
)

// daemon owns the long-lived pieces an AssessFunc call needs.
type daemon struct {
	cfg     *config.EngineConfig
	engine  *quality.DecisionEngine
	runs    *quality.RunManager
	metrics *telemetry.Metrics
	host    string
}

// startAssessment validates the request, registers a run and executes
// the pipeline in the background. The run ID is available immediately.
func (d *daemon) startAssessment(ctx context.Context, req monitor.AssessRequest) (string, error) {
	source, err := capture.NewDirectorySource(req.Dir, capture.DirectorySourceConfig{
		MaxDimension: d.cfg.GetMaxDimension(),
	})
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}

	scene := d.cfg.GetSceneType()
	if req.SceneType != "" {
		scene = quality.NormalizeSceneType(req.SceneType)
	}
	sceneID := req.SceneID
	if sceneID == "" {
		sceneID = filepath.Base(filepath.Clean(req.Dir))
	}

	rec := d.runs.StartRun(sceneID, scene, source.TotalFrames())

	// Detached from the request context: the run outlives the HTTP call.
	go d.execute(rec.RunID, source, scene, req)

	return rec.RunID, nil
}

func (d *daemon) execute(runID string, source capture.FrameSource, scene quality.SceneType, req monitor.AssessRequest) {
	ctx := context.Background()

	var (
		detector  vision.DetectionProvider = vision.NullProvider{}
		segmenter vision.SegmentationProvider
	)
	segmenter = vision.NullProvider{}
	if d.host != "" {
		remote, err := vision.NewRemoteProvider(ctx, d.host)
		if err != nil {
			d.failRun(runID, fmt.Sprintf("connect inference server: %v", err))
			return
		}
		defer remote.Close()
		detector, segmenter = remote, remote
	}

	sampling := quality.NewSamplingStrategy()
	sampling.TargetDetectionFrames = d.cfg.GetTargetDetectionFrames()
	sampling.TargetSegmentationFrames = d.cfg.GetTargetSegmentationFrames()

	resources := quality.NewResourceMonitor(d.cfg.GetMemoryBudgetBytes(), 0, nil)
	resources.Start()
	defer resources.Stop()

	workers := req.Workers
	if workers == 0 {
		workers = d.cfg.GetMaxWorkers()
	}

	pipeline, err := quality.NewPipeline(quality.PipelineConfig{
		Source:                  source,
		Detector:                detector,
		Segmenter:               segmenter,
		SceneType:               scene,
		Engine:                  d.engine,
		Sampling:                sampling,
		WorkersOverride:         workers,
		DisableEarlyTermination: req.DisableEarlyTermination || !d.cfg.GetEarlyTermination(),
		Resources:               resources,
		Metrics:                 d.metrics,
	})
	if err != nil {
		d.failRun(runID, err.Error())
		return
	}

	result, stats, err := pipeline.Run(ctx)
	if err != nil {
		d.failRun(runID, err.Error())
		return
	}
	if err := d.runs.CompleteRun(runID, result, stats, pipeline.FrameMetrics()); err != nil {
		log.Printf("Failed to persist run %s: %v", runID, err)
	}
}

func (d *daemon) failRun(runID, reason string) {
	d.metrics.RunsFailed.Add(1)
	if err := d.runs.FailRun(runID, reason); err != nil {
		log.Printf("Failed to record run failure %s: %v", runID, err)
	}
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	writers := quality.LogWriters{Ops: os.Stderr}
	if *debugLogs || *traceLogs {
		writers.Diag = os.Stderr
	}
	if *traceLogs {
		writers.Trace = os.Stderr
	}
	quality.SetLogWriters(writers)

	cfg := config.EmptyEngineConfig()
	if *configFile != "" {
		loaded, err := config.LoadEngineConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	engine, err := cfg.BuildDecisionEngine()
	if err != nil {
		log.Fatalf("Failed to build decision engine: %v", err)
	}

	database, err := db.OpenDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	store := storage.NewAssessmentStore(database.DB)
	metrics := telemetry.New()
	runs := quality.NewRunManager(store, nil)

	d := &daemon{
		cfg:     cfg,
		engine:  engine,
		runs:    runs,
		metrics: metrics,
		host:    *serverHost,
	}

	rollups := storage.NewDecisionRollupWorker(database.DB)
	rollups.Interval = *rollupInterval
	rollups.Start()
	defer rollups.Stop()

	webserver, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Runs:    runs,
		Store:   store,
		DB:      database,
		Metrics: metrics,
		Assess:  d.startAssessment,
		Version: version.Version,
	})
	if err != nil {
		log.Fatalf("Failed to create web server: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webserver.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	log.Printf("assessd %s listening on %s (db=%s, inference=%s)",
		version.Version, *listen, *dbFile, orOffline(*serverHost))

	wg.Wait()
	log.Println("assessd stopped")
}

func orOffline(host string) string {
	if host == "" {
		return "offline"
	}
	return host
}
