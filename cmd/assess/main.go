// Command assess runs a one-shot quality assessment over a directory of
// captured frames and prints the decision document.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/capture"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/config"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/db"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/monitoring"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
	storage "github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality/storage/sqlite"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/telemetry"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/version"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

var (
	frameDir    = flag.String("dir", "", "Directory of captured frames to assess (required)")
	sceneID     = flag.String("scene", "", "Scene identifier (default: base name of -dir)")
	sceneType   = flag.String("scene-type", "", "Scene type: indoor, outdoor or default (overrides config)")
	configFile  = flag.String("config", "", "Path to engine config JSON")
	dbFile      = flag.String("db", "", "SQLite database to persist the run into (optional)")
	serverHost  = flag.String("server", "", "Inference server host:port (websocket)")
	resultsFile = flag.String("results", "", "Precomputed inference results JSON for offline assessment")
	workers     = flag.Int("workers", 0, "Worker count override (0 = auto)")
	output      = flag.String("output", "table", "Output format: table, json or summary")
	noEarlyTerm = flag.Bool("no-early-term", false, "Disable early termination, process every planned frame")
	quiet       = flag.Bool("quiet", false, "Suppress operational logging, print only the result")
	showProg    = flag.Bool("progress", false, "Print batch progress to stderr")
	debugLogs   = flag.Bool("debug", false, "Enable diagnostic logging")
	traceLogs   = flag.Bool("trace", false, "Enable per-frame trace logging (implies -debug)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Exit codes by decision, so batch scripting can branch on the outcome.
const (
	exitOK     = 0
	exitReject = 2
	exitError  = 3
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("assess %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *frameDir == "" {
		log.Fatal("-dir is required")
	}

	var writers quality.LogWriters
	if *quiet {
		monitoring.SetOutput(nil)
	} else {
		writers.Ops = os.Stderr
	}
	if *debugLogs || *traceLogs {
		writers.Diag = os.Stderr
	}
	if *traceLogs {
		writers.Trace = os.Stderr
	}
	quality.SetLogWriters(writers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

// run does the actual work so deferred cleanup survives os.Exit.
func run(ctx context.Context) int {
	cfg := config.EmptyEngineConfig()
	if *configFile != "" {
		loaded, err := config.LoadEngineConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	scene := cfg.GetSceneType()
	if *sceneType != "" {
		scene = quality.NormalizeSceneType(*sceneType)
	}
	sid := *sceneID
	if sid == "" {
		sid = filepath.Base(filepath.Clean(*frameDir))
	}

	engine, err := cfg.BuildDecisionEngine()
	if err != nil {
		log.Fatalf("Failed to build decision engine: %v", err)
	}

	pipeline, cleanup, initErr := buildPipeline(ctx, cfg, scene, engine)
	if cleanup != nil {
		defer cleanup()
	}
	if initErr != nil {
		// Initialization failures still produce a decision document so
		// upstream automation sees ERROR rather than a missing file.
		emit(engine.ErrorResult(scene, initErr.Error()))
		return exitError
	}

	var manager *quality.RunManager
	var rec *quality.RunRecord
	if *dbFile != "" {
		database, err := db.OpenDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		manager = quality.NewRunManager(storage.NewAssessmentStore(database.DB), nil)
		rec = manager.StartRun(sid, scene, pipeline.TotalFrames())
	}

	result, stats, err := pipeline.Run(ctx)
	if err != nil {
		if manager != nil {
			if ferr := manager.FailRun(rec.RunID, err.Error()); ferr != nil {
				log.Printf("Failed to record run failure: %v", ferr)
			}
		}
		emit(engine.ErrorResult(scene, err.Error()))
		return exitError
	}

	if manager != nil {
		if err := manager.CompleteRun(rec.RunID, result, stats, pipeline.FrameMetrics()); err != nil {
			log.Printf("Failed to persist run: %v", err)
		}
	}

	emit(result)
	if *showProg || *debugLogs {
		fmt.Fprintf(os.Stderr, "processed %d frames (%d unreadable) in %s\n",
			stats.FramesProcessed, stats.FramesUnreadable, stats.Elapsed.Round(time.Millisecond))
	}

	switch result.Decision {
	case quality.DecisionReject:
		return exitReject
	case quality.DecisionError:
		return exitError
	default:
		return exitOK
	}
}

// buildPipeline assembles the frame source, providers and pipeline. Any
// error here is an initialization failure.
func buildPipeline(ctx context.Context, cfg *config.EngineConfig, scene quality.SceneType, engine *quality.DecisionEngine) (*assessPipeline, func(), error) {
	source, err := capture.NewDirectorySource(*frameDir, capture.DirectorySourceConfig{
		MaxDimension: cfg.GetMaxDimension(),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		detector  vision.DetectionProvider
		segmenter vision.SegmentationProvider
		cleanup   func()
		workerCap = *workers
	)
	switch {
	case *resultsFile != "":
		static, err := vision.LoadStaticProvider(*resultsFile)
		if err != nil {
			return nil, nil, err
		}
		detector, segmenter = static, static
		// Replayed results are consumed in call order, so batches must
		// arrive in plan order.
		workerCap = 1
	case *serverHost != "":
		remote, err := vision.NewRemoteProvider(ctx, *serverHost)
		if err != nil {
			return nil, nil, err
		}
		detector, segmenter = remote, remote
		cleanup = func() { remote.Close() }
	default:
		detector, segmenter = vision.NullProvider{}, vision.NullProvider{}
	}
	if workerCap == 0 {
		workerCap = cfg.GetMaxWorkers()
	}

	sampling := quality.NewSamplingStrategy()
	sampling.TargetDetectionFrames = cfg.GetTargetDetectionFrames()
	sampling.TargetSegmentationFrames = cfg.GetTargetSegmentationFrames()

	resources := quality.NewResourceMonitor(cfg.GetMemoryBudgetBytes(), 0, nil)
	resources.Start()

	var progress quality.ProgressFunc
	if *showProg {
		progress = func(ratio float64, ps quality.ProgressStats) {
			fmt.Fprintf(os.Stderr, "\rprogress %5.1f%% (%d frames)", ratio*100, ps.FramesProcessed)
		}
	}

	p, err := quality.NewPipeline(quality.PipelineConfig{
		Source:                  source,
		Detector:                detector,
		Segmenter:               segmenter,
		SceneType:               scene,
		Engine:                  engine,
		Sampling:                sampling,
		WorkersOverride:         workerCap,
		DisableEarlyTermination: *noEarlyTerm || !cfg.GetEarlyTermination(),
		Resources:               resources,
		Metrics:                 telemetry.New(),
		Progress:                progress,
	})
	if err != nil {
		resources.Stop()
		if cleanup != nil {
			cleanup()
		}
		return nil, nil, err
	}

	stopAll := func() {
		resources.Stop()
		if cleanup != nil {
			cleanup()
		}
	}
	return &assessPipeline{Pipeline: p, total: source.TotalFrames()}, stopAll, nil
}

// assessPipeline carries the source frame count alongside the pipeline
// for run registration.
type assessPipeline struct {
	*quality.Pipeline
	total int
}

func (p *assessPipeline) TotalFrames() int { return p.total }

// emit prints the result in the selected output format.
func emit(result *quality.QualityAssessmentResult) {
	switch *output {
	case "json":
		doc, err := result.ToJSON()
		if err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		fmt.Println(doc)
	case "summary":
		fmt.Println(result.Summary())
	default:
		fmt.Println(result.Table())
	}
}
