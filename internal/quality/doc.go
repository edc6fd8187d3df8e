// Package quality implements the moving-obstacle quality assessment engine.
//
// The engine consumes per-frame object detection and segmentation results
// for a captured scene and reduces them to three aggregate interference
// metrics: WDD (weighted detection density), WPO (weighted pixel occupancy)
// and SAI (self-appearance index). An adaptive sampling plan bounds the
// number of frames sent to the inference providers, an early-termination
// check short-circuits obviously bad captures, and a threshold-driven
// decision engine renders the final PASS/NEED_REVIEW/REJECT/ERROR verdict
// that gates downstream 3D reconstruction.
//
// Layering, leaves first:
//
//	RegionManager        frame geometry -> importance zones and weights
//	MetricsCalculator    streaming accumulation of WDD/WPO/SAI
//	SamplingStrategy     frame budgets -> sampling rates, batches, workers
//	ThresholdManager     metric value -> quality tier per scene type
//	DecisionEngine       final metrics -> categorical decision + problems
//	Pipeline             orchestrates loading, inference, aggregation
//
// The Pipeline is the only concurrent component: provider calls run on a
// bounded worker pool while a single aggregator goroutine owns the
// MetricsCalculator, so the accumulator never needs a hot-path lock.
package quality
