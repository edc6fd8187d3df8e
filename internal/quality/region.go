package quality

import (
	"math"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/vision"
)

// Region identifies one of the fixed importance zones a frame is
// partitioned into. The zero value is the core zone.
type Region int

const (
	// RegionCore is the central circle where obstacles hurt most.
	RegionCore Region = iota
	// RegionMiddle is the ring between the core and the frame edge.
	RegionMiddle
	// RegionEdge is everything beyond the middle ring.
	RegionEdge
	// RegionSelfZone is the bottom strip where the photographer's own
	// body tends to appear. It is an exclusion/flag zone only.
	RegionSelfZone

	// NumRegions is the number of distinct regions.
	NumRegions
)

// String returns the region name used in logs and exports.
func (r Region) String() string {
	switch r {
	case RegionCore:
		return "core"
	case RegionMiddle:
		return "middle"
	case RegionEdge:
		return "edge"
	case RegionSelfZone:
		return "self_zone"
	default:
		return "unknown"
	}
}

// RegionWeights holds, per region, the fraction of some sample (a bbox
// centroid or a set of mask points) that fell in that region. Fractions
// sum to 1 for any non-empty sample.
type RegionWeights [NumRegions]float64

// Geometry constants for the zone partition. Radii are multiples of the
// reference length min(width, height); the self-zone occupies the bottom
// strip of the frame.
const (
	coreRadiusFactor   = 0.6
	middleRadiusFactor = 0.85
	selfZoneHeightFrac = 0.3

	coreWeight     = 3.0
	middleWeight   = 1.5
	edgeWeight     = 0.5
	selfZoneWeight = -1.0

	// DefaultSelfZoneAreaThreshold is the minimum bbox-area/frame-area
	// ratio for a self-zone detection to count as the photographer.
	// Smaller hits are background objects that happen to sit low in the
	// frame.
	DefaultSelfZoneAreaThreshold = 0.05
)

// regionWeightTable maps each region to its importance weight.
var regionWeightTable = [NumRegions]float64{
	RegionCore:     coreWeight,
	RegionMiddle:   middleWeight,
	RegionEdge:     edgeWeight,
	RegionSelfZone: selfZoneWeight,
}

// RegionManager partitions a frame of known dimensions into importance
// zones and answers point/region membership queries. Construct once per
// (width, height) pair; safe for concurrent read-only use.
type RegionManager struct {
	width  int
	height int

	centerX   float64
	centerY   float64
	frameArea float64

	coreRadius   float64
	middleRadius float64

	// Self-zone rectangles: two half-width boxes across the bottom
	// selfZoneHeightFrac of the frame. All bounds are inclusive.
	selfZoneTop float64
	selfZoneMid float64
}

// NewRegionManager builds the zone partition for a frame of the given
// pixel dimensions.
func NewRegionManager(width, height int) *RegionManager {
	ref := float64(width)
	if height < width {
		ref = float64(height)
	}
	return &RegionManager{
		width:        width,
		height:       height,
		centerX:      float64(width) / 2,
		centerY:      float64(height) / 2,
		frameArea:    float64(width) * float64(height),
		coreRadius:   coreRadiusFactor * ref,
		middleRadius: middleRadiusFactor * ref,
		selfZoneTop:  float64(height) * (1 - selfZoneHeightFrac),
		selfZoneMid:  float64(width) / 2,
	}
}

// Width returns the frame width the manager was built for.
func (rm *RegionManager) Width() int { return rm.width }

// Height returns the frame height the manager was built for.
func (rm *RegionManager) Height() int { return rm.height }

// FrameArea returns the frame area in square pixels.
func (rm *RegionManager) FrameArea() float64 { return rm.frameArea }

// IsInSelfZone reports whether the point lies in the self-appearance
// strip. Bounds are inclusive on all edges.
func (rm *RegionManager) IsInSelfZone(x, y float64) bool {
	if y < rm.selfZoneTop || y > float64(rm.height) {
		return false
	}
	// The strip is modelled as two adjacent half-width rectangles; their
	// union covers the full frame width.
	return x >= 0 && x <= float64(rm.width)
}

// ClassifyPoint maps a pixel coordinate to its region. The self-zone test
// runs first; otherwise Euclidean distance from the frame centre decides,
// with a boundary point assigned to the inner region.
func (rm *RegionManager) ClassifyPoint(x, y float64) Region {
	if rm.IsInSelfZone(x, y) {
		return RegionSelfZone
	}
	dx := x - rm.centerX
	dy := y - rm.centerY
	dist := math.Sqrt(dx*dx + dy*dy)
	switch {
	case dist <= rm.coreRadius:
		return RegionCore
	case dist <= rm.middleRadius:
		return RegionMiddle
	default:
		return RegionEdge
	}
}

// BBoxRegionWeights assigns a bounding box wholly to the region of its
// centroid: the returned weights carry fraction 1.0 in that region.
func (rm *RegionManager) BBoxRegionWeights(box vision.BBox) RegionWeights {
	var w RegionWeights
	cx, cy := box.Center()
	w[rm.ClassifyPoint(cx, cy)] = 1.0
	return w
}

// MaskRegionWeights classifies every sampled mask point and returns the
// fraction of points in each region. An empty sample yields zero weights.
func (rm *RegionManager) MaskRegionWeights(points []vision.Point) RegionWeights {
	var w RegionWeights
	if len(points) == 0 {
		return w
	}
	for _, p := range points {
		w[rm.ClassifyPoint(p.X, p.Y)]++
	}
	n := float64(len(points))
	for i := range w {
		w[i] /= n
	}
	return w
}

// WeightedValue is the single weighting primitive shared by WDD and WPO:
// the sum over regions of base x fraction x region weight. It is linear
// in base.
func (rm *RegionManager) WeightedValue(weights RegionWeights, base float64) float64 {
	var v float64
	for r := Region(0); r < NumRegions; r++ {
		v += base * weights[r] * regionWeightTable[r]
	}
	return v
}

// IsLargeDetectionInSelfZone reports whether a bounding box marks likely
// photographer self-appearance: its centroid must lie in the self-zone
// and its area must exceed threshold x frame area. Pass threshold <= 0
// for the default.
func (rm *RegionManager) IsLargeDetectionInSelfZone(box vision.BBox, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSelfZoneAreaThreshold
	}
	cx, cy := box.Center()
	if !rm.IsInSelfZone(cx, cy) {
		return false
	}
	return box.Area()/rm.frameArea > threshold
}
