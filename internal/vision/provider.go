package vision

import (
	"context"
	"image"
)

// DetectionProvider runs object detection over a batch of frames.
// Implementations must return exactly one result per input image, in input
// order, and must respect ctx cancellation and their own batch deadline.
type DetectionProvider interface {
	DetectBatch(ctx context.Context, images []image.Image) ([]DetectionFrameResult, error)
}

// SegmentationProvider runs instance segmentation over a batch of frames
// under the same ordering contract as DetectionProvider.
type SegmentationProvider interface {
	SegmentBatch(ctx context.Context, images []image.Image) ([]SegmentationFrameResult, error)
}

// NullProvider answers every frame with an empty result. It backs offline
// dry runs where no inference server is reachable and the caller only wants
// the sampling/decision plumbing exercised.
type NullProvider struct{}

// DetectBatch returns one empty detection result per input image.
func (NullProvider) DetectBatch(_ context.Context, images []image.Image) ([]DetectionFrameResult, error) {
	results := make([]DetectionFrameResult, len(images))
	return results, nil
}

// SegmentBatch returns one empty segmentation result per input image.
func (NullProvider) SegmentBatch(_ context.Context, images []image.Image) ([]SegmentationFrameResult, error) {
	results := make([]SegmentationFrameResult, len(images))
	return results, nil
}
