// Package vision defines the object detection and segmentation data model
// consumed by the quality assessment engine, together with the provider
// interfaces that deliver per-frame inference results.
//
// Providers are external collaborators: the engine never runs a model
// itself. A provider receives a batch of decoded frames and must return one
// result envelope per input frame, in input order. A frame-level failure is
// reported inside the envelope rather than as a batch error, so one bad
// frame never poisons its batch.
package vision
