package quality

// Default frame budgets for one assessment run. The strategy chooses
// sampling strides so roughly this many frames reach each provider
// regardless of capture length.
const (
	DefaultTargetDetectionFrames    = 200
	DefaultTargetSegmentationFrames = 100

	maxPipelineWorkers = 4
)

// SamplingConfig is the per-run work plan computed once before processing
// starts. Immutable thereafter.
type SamplingConfig struct {
	DetectionRate           int  `json:"detection_rate"`
	SegmentationRate        int  `json:"segmentation_rate"`
	BatchSizeDetection      int  `json:"batch_size_detection"`
	BatchSizeSegmentation   int  `json:"batch_size_segmentation"`
	EarlyTerminationEnabled bool `json:"early_termination_enabled"`
	MaxWorkers              int  `json:"max_workers"`
}

// Rates returns the config's strides as a SamplingRates record.
func (c SamplingConfig) Rates() SamplingRates {
	return SamplingRates{Detection: c.DetectionRate, Segmentation: c.SegmentationRate}
}

// SamplingPlan is the concrete list of frame indices to process, chunked
// into dispatch batches. Segmentation indices are always a subset of
// detection indices, so segmentation never analyzes a frame detection
// skipped.
type SamplingPlan struct {
	DetectionFrames     []int   `json:"detection_frames"`
	SegmentationFrames  []int   `json:"segmentation_frames"`
	DetectionBatches    [][]int `json:"-"`
	SegmentationBatches [][]int `json:"-"`
}

// SamplingStrategy computes sampling rates and plans from frame budgets.
type SamplingStrategy struct {
	TargetDetectionFrames    int
	TargetSegmentationFrames int
}

// NewSamplingStrategy returns a strategy with the default frame budgets.
func NewSamplingStrategy() *SamplingStrategy {
	return &SamplingStrategy{
		TargetDetectionFrames:    DefaultTargetDetectionFrames,
		TargetSegmentationFrames: DefaultTargetSegmentationFrames,
	}
}

// CalculateOptimalRates derives the per-run work plan for a capture of
// totalFrames frames. Strides grow with capture length so the per-stage
// frame counts stay near the targets; batch sizes and worker count step
// up in bands so short captures do not pay pool overhead.
func (s *SamplingStrategy) CalculateOptimalRates(totalFrames int) SamplingConfig {
	detTarget := s.TargetDetectionFrames
	if detTarget <= 0 {
		detTarget = DefaultTargetDetectionFrames
	}
	segTarget := s.TargetSegmentationFrames
	if segTarget <= 0 {
		segTarget = DefaultTargetSegmentationFrames
	}

	detRate := totalFrames / detTarget
	if detRate < 1 {
		detRate = 1
	}
	// Segmentation is the expensive stage: never sample it more densely
	// than detection.
	segRate := totalFrames / segTarget
	if segRate < detRate {
		segRate = detRate
	}

	cfg := SamplingConfig{
		DetectionRate:           detRate,
		SegmentationRate:        segRate,
		EarlyTerminationEnabled: true,
	}

	switch {
	case totalFrames < 500:
		cfg.BatchSizeDetection, cfg.BatchSizeSegmentation = 8, 4
	case totalFrames <= 2000:
		cfg.BatchSizeDetection, cfg.BatchSizeSegmentation = 16, 8
	default:
		cfg.BatchSizeDetection, cfg.BatchSizeSegmentation = 32, 16
	}

	workers := totalFrames / 1000
	if workers < 1 {
		workers = 1
	}
	if workers > maxPipelineWorkers {
		workers = maxPipelineWorkers
	}
	cfg.MaxWorkers = workers

	return cfg
}

// GenerateSamplingPlan expands a config into the ordered frame-index
// lists and their dispatch batches for a capture of totalFrames frames.
func (s *SamplingStrategy) GenerateSamplingPlan(totalFrames int, cfg SamplingConfig) SamplingPlan {
	var plan SamplingPlan
	if totalFrames <= 0 {
		return plan
	}
	// Callers normally pass rates from CalculateOptimalRates, but a rate
	// below 1 would stall the loops.
	if cfg.DetectionRate < 1 {
		cfg.DetectionRate = 1
	}
	if cfg.SegmentationRate < 1 {
		cfg.SegmentationRate = 1
	}

	detSet := make(map[int]bool)
	for i := 0; i < totalFrames; i += cfg.DetectionRate {
		plan.DetectionFrames = append(plan.DetectionFrames, i)
		detSet[i] = true
	}
	for i := 0; i < totalFrames; i += cfg.SegmentationRate {
		if detSet[i] {
			plan.SegmentationFrames = append(plan.SegmentationFrames, i)
		}
	}

	plan.DetectionBatches = chunkIndices(plan.DetectionFrames, cfg.BatchSizeDetection)
	plan.SegmentationBatches = chunkIndices(plan.SegmentationFrames, cfg.BatchSizeSegmentation)
	return plan
}

// chunkIndices splits indices into order-preserving batches of at most
// size entries.
func chunkIndices(indices []int, size int) [][]int {
	if len(indices) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(indices)
	}
	batches := make([][]int, 0, (len(indices)+size-1)/size)
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}
