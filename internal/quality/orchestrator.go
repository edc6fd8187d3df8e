package quality

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/capture"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/telemetry"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/timeutil"
	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

// PipelineState tracks where one assessment run is in its lifecycle.
type PipelineState string

const (
	// StateIdle means no run has started.
	StateIdle PipelineState = "idle"
	// StateSamplingPlanned means the sampling plan is computed.
	StateSamplingPlanned PipelineState = "sampling_planned"
	// StateDetectionInProgress means detection batches are running.
	StateDetectionInProgress PipelineState = "detection_in_progress"
	// StateSegmentationInProgress means segmentation batches are running.
	StateSegmentationInProgress PipelineState = "segmentation_in_progress"
	// StateEarlyTerminated means provisional metrics cut the run short.
	StateEarlyTerminated PipelineState = "early_terminated"
	// StateCompleted means all planned batches were processed.
	StateCompleted PipelineState = "completed"
	// StateFinalDecisionComputed is the terminal state.
	StateFinalDecisionComputed PipelineState = "final_decision_computed"
)

// ProgressStats accompanies every progress callback.
type ProgressStats struct {
	FramesProcessed    int `json:"frames_processed"`
	DetectionFrames    int `json:"detection_frames"`
	SegmentationFrames int `json:"segmentation_frames"`
}

// ProgressFunc is invoked after every batch with the overall processed
// ratio in [0, 1].
type ProgressFunc func(ratio float64, stats ProgressStats)

// RunStats carries processing statistics alongside the result.
type RunStats struct {
	Elapsed              time.Duration   `json:"elapsed_ns"`
	DetectionDuration    time.Duration   `json:"detection_duration_ns"`
	SegmentationDuration time.Duration   `json:"segmentation_duration_ns"`
	DetectionFPS         float64         `json:"detection_fps"`
	SegmentationFPS      float64         `json:"segmentation_fps"`
	FramesProcessed      int             `json:"frames_processed"`
	FramesUnreadable     int             `json:"frames_unreadable"`
	EarlyTerminated      bool            `json:"early_terminated"`
	EarlyTermReason      string          `json:"early_termination_reason,omitempty"`
	Sampling             SamplingConfig  `json:"sampling"`
	FrameStats           FrameScoreStats `json:"frame_stats"`
}

// PipelineConfig wires one assessment run.
type PipelineConfig struct {
	Source    capture.FrameSource
	Detector  vision.DetectionProvider
	Segmenter vision.SegmentationProvider
	SceneType SceneType
	Engine    *DecisionEngine

	// Sampling defaults to NewSamplingStrategy when nil.
	Sampling *SamplingStrategy

	// WorkersOverride, when > 0, replaces the computed worker count.
	WorkersOverride int

	// DisableEarlyTermination forces every planned batch to run.
	DisableEarlyTermination bool

	// Resources, when set, is consulted between batches: under memory
	// pressure the pipeline halves subsequent batch sizes (advisory,
	// never a hard stop).
	Resources *ResourceMonitor

	// Metrics, when set, receives pipeline counters.
	Metrics *telemetry.Metrics

	Progress ProgressFunc
	Clock    timeutil.Clock
}

// Pipeline coordinates one assessment: sampling plan, detection and
// segmentation batches, streaming aggregation, early termination and
// the final decision. A Pipeline is single-use per Run call; Run may be
// called again, which resets all accumulated state.
type Pipeline struct {
	cfg  PipelineConfig
	calc *MetricsCalculator

	stateMu sync.RWMutex
	state   PipelineState

	framesProcessed  atomic.Int64
	framesUnreadable atomic.Int64
}

// NewPipeline validates the wiring and builds a pipeline. A nil source,
// detector or engine is an initialization error: callers surface it as
// a decision of ERROR via DecisionEngine.ErrorResult.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("detection provider is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("decision engine is required")
	}
	if cfg.Sampling == nil {
		cfg.Sampling = NewSamplingStrategy()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.SceneType == "" {
		cfg.SceneType = SceneDefault
	}
	regions := NewRegionManager(cfg.Source.Width(), cfg.Source.Height())
	return &Pipeline{
		cfg:   cfg,
		calc:  NewMetricsCalculator(regions),
		state: StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s PipelineState) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
	Diagf("pipeline state -> %s", s)
}

// batchJob is one unit of worker-pool work: frames already loaded, in
// plan order.
type batchJob struct {
	indices []int
	images  []image.Image
}

// batchOutcome is what a worker hands the aggregator.
type batchOutcome struct {
	indices    []int
	detections []vision.DetectionFrameResult
	segments   []vision.SegmentationFrameResult
	err        error
}

// Run executes the full assessment and returns the decision document
// plus run statistics. Per-frame and per-batch failures are absorbed;
// only a cancelled context aborts the run with an error.
func (p *Pipeline) Run(ctx context.Context) (*QualityAssessmentResult, RunStats, error) {
	start := p.cfg.Clock.Now()
	p.calc.Reset()
	p.framesProcessed.Store(0)
	p.framesUnreadable.Store(0)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RunsStarted.Add(1)
	}

	totalFrames := p.cfg.Source.TotalFrames()
	cfg := p.cfg.Sampling.CalculateOptimalRates(totalFrames)
	if p.cfg.WorkersOverride > 0 {
		cfg.MaxWorkers = p.cfg.WorkersOverride
	}
	if p.cfg.DisableEarlyTermination {
		cfg.EarlyTerminationEnabled = false
	}
	plan := p.cfg.Sampling.GenerateSamplingPlan(totalFrames, cfg)
	p.setState(StateSamplingPlanned)
	Diagf("sampling plan: %d frames total, %d detection (rate %d), %d segmentation (rate %d), %d workers",
		totalFrames, len(plan.DetectionFrames), cfg.DetectionRate,
		len(plan.SegmentationFrames), cfg.SegmentationRate, cfg.MaxWorkers)

	stats := RunStats{Sampling: cfg}
	plannedTotal := len(plan.DetectionFrames) + len(plan.SegmentationFrames)

	// Detection stage.
	p.setState(StateDetectionInProgress)
	detStart := p.cfg.Clock.Now()
	terminated, reason, err := p.runStage(ctx, stageDetection, plan.DetectionBatches, cfg, plannedTotal, len(plan.DetectionFrames))
	stats.DetectionDuration = p.cfg.Clock.Since(detStart)
	if err != nil {
		return nil, stats, err
	}

	// Segmentation stage, unless terminated or nothing planned.
	if !terminated && p.cfg.Segmenter != nil && len(plan.SegmentationBatches) > 0 {
		p.setState(StateSegmentationInProgress)
		segStart := p.cfg.Clock.Now()
		_, _, err = p.runStage(ctx, stageSegmentation, plan.SegmentationBatches, cfg, plannedTotal, 0)
		stats.SegmentationDuration = p.cfg.Clock.Since(segStart)
		if err != nil {
			return nil, stats, err
		}
	}

	if terminated {
		p.setState(StateEarlyTerminated)
		stats.EarlyTerminated = true
		stats.EarlyTermReason = reason
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.EarlyTerminations.Add(1)
		}
		Opsf("early termination: %s", reason)
	} else {
		p.setState(StateCompleted)
	}

	final := p.calc.CalculateFinalMetrics(totalFrames, cfg.Rates())
	result := p.cfg.Engine.EvaluateQuality(final, p.cfg.SceneType)
	p.setState(StateFinalDecisionComputed)

	stats.FramesProcessed = int(p.framesProcessed.Load())
	stats.FramesUnreadable = int(p.framesUnreadable.Load())
	stats.Elapsed = p.cfg.Clock.Since(start)
	stats.FrameStats = ComputeFrameScoreStats(p.calc.FrameMetricsSnapshot())
	if d := stats.DetectionDuration.Seconds(); d > 0 {
		stats.DetectionFPS = float64(len(plan.DetectionFrames)) / d
	}
	if d := stats.SegmentationDuration.Seconds(); d > 0 {
		stats.SegmentationFPS = float64(len(plan.SegmentationFrames)) / d
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordDecision(string(result.Decision))
	}
	return result, stats, nil
}

// FrameMetrics returns a snapshot of the per-frame accumulators from the
// last run, for persistence.
func (p *Pipeline) FrameMetrics() []FrameMetrics {
	return p.calc.FrameMetricsSnapshot()
}

type stageKind int

const (
	stageDetection stageKind = iota
	stageSegmentation
)

// runStage drains one stage's batches through the worker pool. Frames
// are loaded synchronously before dispatch; provider calls run on the
// pool; a single aggregator (this goroutine) merges outcomes into the
// calculator, so the accumulator needs no lock. Early termination is
// only evaluated between batch boundaries, and in-flight batches are
// always drained and merged before the stage returns.
func (p *Pipeline) runStage(ctx context.Context, kind stageKind, batches [][]int, cfg SamplingConfig, plannedTotal, detectionPlanned int) (terminated bool, reason string, err error) {
	if len(batches) == 0 {
		return false, "", nil
	}

	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan batchJob)
	results := make(chan batchOutcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- p.runBatch(ctx, kind, job)
			}
		}()
	}

	// Dispatcher: loads frames and feeds the pool. stopDispatch tells it
	// to stop submitting new batches; whatever is in flight still lands
	// in the results channel.
	var stopDispatch atomic.Bool
	go func() {
		defer close(jobs)
		halved := false
		for _, batch := range batches {
			if stopDispatch.Load() || ctx.Err() != nil {
				return
			}
			if p.cfg.Resources != nil && p.cfg.Resources.LimitExceeded() && !halved {
				halved = true
				Opsf("memory pressure: halving batch sizes for remainder of stage")
			}
			for _, chunk := range maybeSplit(batch, halved) {
				job := p.loadBatch(chunk)
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Aggregator: single owner of the calculator.
	for outcome := range results {
		if outcome.err != nil {
			// Batch-level provider failure: absorb as an empty result;
			// the batch's frames still count as processed.
			Opsf("batch %v: provider error absorbed: %v", batchSpan(outcome.indices), outcome.err)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ProviderErrors.Add(1)
			}
		}
		p.mergeOutcome(kind, outcome)

		processed := int(p.framesProcessed.Load())
		ratio := 0.0
		if plannedTotal > 0 {
			ratio = float64(processed) / float64(plannedTotal)
		}
		if p.cfg.Progress != nil {
			p.cfg.Progress(ratio, ProgressStats{
				FramesProcessed:    processed,
				DetectionFrames:    p.calc.SampledFrameCount(),
				SegmentationFrames: segmentedCount(p.calc),
			})
		}

		if kind == stageDetection && cfg.EarlyTerminationEnabled && !terminated && detectionPlanned > 0 {
			detRatio := float64(processed) / float64(detectionPlanned)
			if detRatio > earlyTerminationMinRatio {
				if hit, why := p.calc.CheckEarlyTermination(detRatio); hit {
					terminated = true
					reason = why
					stopDispatch.Store(true)
				}
			}
		}
	}

	if ctx.Err() != nil {
		return terminated, reason, ctx.Err()
	}
	return terminated, reason, nil
}

// loadBatch synchronously loads a batch's frames. Unreadable frames are
// dropped from the provider call but their indices still count as
// processed.
func (p *Pipeline) loadBatch(indices []int) batchJob {
	job := batchJob{indices: make([]int, 0, len(indices)), images: make([]image.Image, 0, len(indices))}
	for _, idx := range indices {
		img, err := p.cfg.Source.LoadFrame(idx)
		if err != nil || img == nil {
			if err != nil {
				Opsf("frame %d: load failed: %v", idx, err)
			} else {
				Diagf("frame %d: unreadable, skipped", idx)
			}
			p.framesUnreadable.Add(1)
			p.framesProcessed.Add(1)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.FramesUnreadable.Add(1)
			}
			continue
		}
		job.indices = append(job.indices, idx)
		job.images = append(job.images, img)
	}
	return job
}

// runBatch executes one provider call on the worker pool.
func (p *Pipeline) runBatch(ctx context.Context, kind stageKind, job batchJob) batchOutcome {
	out := batchOutcome{indices: job.indices}
	if len(job.images) == 0 {
		return out
	}
	if p.cfg.Metrics != nil {
		if kind == stageDetection {
			p.cfg.Metrics.DetectionBatches.Add(1)
		} else {
			p.cfg.Metrics.SegmentationBatches.Add(1)
		}
	}
	switch kind {
	case stageDetection:
		out.detections, out.err = p.cfg.Detector.DetectBatch(ctx, job.images)
	case stageSegmentation:
		out.segments, out.err = p.cfg.Segmenter.SegmentBatch(ctx, job.images)
	}
	return out
}

// mergeOutcome applies a batch outcome to the calculator. Only the
// aggregator goroutine calls this.
func (p *Pipeline) mergeOutcome(kind stageKind, out batchOutcome) {
	for i, idx := range out.indices {
		switch kind {
		case stageDetection:
			var res vision.DetectionFrameResult
			if out.err == nil && i < len(out.detections) {
				res = out.detections[i]
			}
			p.calc.ProcessDetectionFrame(idx, res)
		case stageSegmentation:
			var res vision.SegmentationFrameResult
			if out.err == nil && i < len(out.segments) {
				res = out.segments[i]
			}
			p.calc.ProcessSegmentationFrame(idx, res)
		}
		p.framesProcessed.Add(1)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.FramesProcessed.Add(1)
		}
	}
}

// maybeSplit halves a batch under memory pressure, preserving order.
func maybeSplit(batch []int, halve bool) [][]int {
	if !halve || len(batch) <= 1 {
		return [][]int{batch}
	}
	mid := len(batch) / 2
	return [][]int{batch[:mid], batch[mid:]}
}

// batchSpan renders a batch's index range for logs.
func batchSpan(indices []int) string {
	if len(indices) == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%d..%d]", indices[0], indices[len(indices)-1])
}

// segmentedCount counts frames with segmentation data.
func segmentedCount(calc *MetricsCalculator) int {
	n := 0
	for _, fm := range calc.FrameMetricsSnapshot() {
		if fm.SegmentationCount > 0 || fm.hasSegmentation {
			n++
		}
	}
	return n
}
