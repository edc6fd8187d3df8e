package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"sync"
)

// StaticProvider replays precomputed per-frame results from a fixture
// file, consuming them in call order. It serves offline assessments of
// captures whose inference results were exported ahead of time, and
// deterministic tests. Callers that need results aligned to frame
// indices must submit batches from a single worker.
type StaticProvider struct {
	mu            sync.Mutex
	detections    []DetectionFrameResult
	segmentations []SegmentationFrameResult
	detCursor     int
	segCursor     int
}

// staticFixture is the on-disk shape consumed by LoadStaticProvider.
type staticFixture struct {
	Detections    []DetectionFrameResult    `json:"detections"`
	Segmentations []SegmentationFrameResult `json:"segmentations"`
}

// NewStaticProvider wraps precomputed results. Either slice may be nil
// when only one stage will be exercised.
func NewStaticProvider(detections []DetectionFrameResult, segmentations []SegmentationFrameResult) *StaticProvider {
	return &StaticProvider{
		detections:    detections,
		segmentations: segmentations,
	}
}

// LoadStaticProvider reads a JSON fixture of exported inference results.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	var fix staticFixture
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("parse results file %s: %w", path, err)
	}
	if len(fix.Detections) == 0 && len(fix.Segmentations) == 0 {
		return nil, fmt.Errorf("results file %s contains no frames", path)
	}
	for i := range fix.Detections {
		for j := range fix.Detections[i].Detections {
			d := &fix.Detections[i].Detections[j]
			d.Class = NormalizeClass(string(d.Class))
		}
	}
	for i := range fix.Segmentations {
		for j := range fix.Segmentations[i].Segmentations {
			s := &fix.Segmentations[i].Segmentations[j]
			s.Class = NormalizeClass(string(s.Class))
		}
	}
	return NewStaticProvider(fix.Detections, fix.Segmentations), nil
}

// DetectBatch returns the next len(images) precomputed results. Frames
// past the end of the fixture report a per-frame error rather than
// failing the batch.
func (p *StaticProvider) DetectBatch(ctx context.Context, images []image.Image) ([]DetectionFrameResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]DetectionFrameResult, len(images))
	for i := range images {
		if p.detCursor < len(p.detections) {
			results[i] = p.detections[p.detCursor]
			p.detCursor++
		} else {
			results[i] = DetectionFrameResult{Err: "no precomputed detection result"}
		}
	}
	return results, nil
}

// SegmentBatch returns the next len(images) precomputed segmentation
// results under the same contract as DetectBatch.
func (p *StaticProvider) SegmentBatch(ctx context.Context, images []image.Image) ([]SegmentationFrameResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]SegmentationFrameResult, len(images))
	for i := range images {
		if p.segCursor < len(p.segmentations) {
			results[i] = p.segmentations[p.segCursor]
			p.segCursor++
		} else {
			results[i] = SegmentationFrameResult{Err: "no precomputed segmentation result"}
		}
	}
	return results, nil
}

// Reset rewinds both cursors to the start of the fixture.
func (p *StaticProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detCursor = 0
	p.segCursor = 0
}
