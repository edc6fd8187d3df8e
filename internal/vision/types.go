package vision

import "strings"

// ObjectClass identifies the category of a detected object.
type ObjectClass string

const (
	// ClassPerson indicates a person or pedestrian
	ClassPerson ObjectClass = "person"
	// ClassDog indicates a dog
	ClassDog ObjectClass = "dog"
	// ClassBicycle indicates a bicycle
	ClassBicycle ObjectClass = "bicycle"
	// ClassCar indicates a car or other vehicle
	ClassCar ObjectClass = "car"
	// ClassUnknown indicates an unrecognized label
	ClassUnknown ObjectClass = "unknown"
)

// classAliases maps label spellings emitted by inference backends onto
// canonical classes.
var classAliases = map[string]ObjectClass{
	"person":     ClassPerson,
	"pedestrian": ClassPerson,
	"people":     ClassPerson,
	"dog":        ClassDog,
	"bicycle":    ClassBicycle,
	"bike":       ClassBicycle,
	"car":        ClassCar,
	"vehicle":    ClassCar,
	"automobile": ClassCar,
	"truck":      ClassCar,
}

// NormalizeClass maps a raw backend label to its canonical ObjectClass.
func NormalizeClass(label string) ObjectClass {
	if c, ok := classAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return ClassUnknown
}

// Qualifying reports whether detections of this class count as moving
// obstacles for interference metrics. Only people and dogs move through a
// capture unpredictably enough to degrade reconstruction.
func (c ObjectClass) Qualifying() bool {
	return c == ClassPerson || c == ClassDog
}

// BBox is an axis-aligned bounding box in pixel coordinates, with (X1,Y1)
// the top-left and (X2,Y2) the bottom-right corner.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels. Degenerate boxes report 0.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the centroid of the box.
func (b BBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Point is a pixel coordinate sampled from a segmentation mask.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one detected object in a frame. Immutable once produced.
type Detection struct {
	Box        BBox        `json:"box"`
	Class      ObjectClass `json:"class"`
	Confidence float64     `json:"confidence"`
}

// Segmentation is a detection plus an optional pixel mask summary. Backends
// that fail to produce a mask for an object still report the detection with
// HasMask false; consumers then fall back to bbox-based area estimates.
type Segmentation struct {
	Detection
	MaskArea        int     `json:"mask_area"`
	MaskPointSample []Point `json:"mask_points,omitempty"`
	HasMask         bool    `json:"has_mask"`
}

// DetectionFrameResult is the per-frame envelope returned by a detection
// provider: either a detection list or a frame-level error string.
type DetectionFrameResult struct {
	Detections []Detection `json:"detections"`
	Err        string      `json:"error,omitempty"`
}

// SegmentationFrameResult is the per-frame envelope returned by a
// segmentation provider.
type SegmentationFrameResult struct {
	Segmentations []Segmentation `json:"segmentations"`
	Err           string         `json:"error,omitempty"`
}
