package change

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Type labels how a road segment evolved between two sources.
type Type string

// Change types, from least to most divergent.
const (
	TypeSame      Type = "same"
	TypeWidened   Type = "widened"
	TypeRerouted  Type = "rerouted"
	TypeReplaced  Type = "replaced"
	TypeUnmatched Type = "unmatched"
)

// Classification thresholds. The LSS ratios and Hausdorff limits come
// from manual inspection of matched historical/modern road pairs.
const (
	sameLSS       = 0.9
	sameHausdorff = 5.0

	widenedLSS       = 0.8
	widenedHausdorff = 10.0

	reroutedLSS = 0.5

	// endpointTolerance bounds how far endpoints may sit apart and
	// still count as the same junctions (the "replaced" case).
	endpointTolerance = 15.0

	// parallelSpread is the maximum spread of perpendicular offsets
	// for a widened (parallel carriageway) pattern.
	parallelSpread = 3.0
)

// Result captures one compared road pair and its derived change type.
type Result struct {
	OldID string
	NewID string

	LSSRatio  float64
	Hausdorff float64

	Type Type
}

// Params carries the sampling configuration for classification.
type Params struct {
	// SampleInterval is the point spacing along each line.
	SampleInterval float64

	// MatchTolerance is the max distance for two sampled points to
	// count as corresponding.
	MatchTolerance float64
}

// DefaultParams matches the matcher's default 5-unit sampling.
func DefaultParams() Params {
	return Params{SampleInterval: 5, MatchTolerance: 5}
}

// Classify compares two road lines and labels the evolution of the old
// one into the new one. Rules apply in order: same, widened, rerouted,
// replaced, unmatched.
func Classify(oldLine, newLine orb.LineString, p Params) Result {
	oldPts := SamplePoints(oldLine, p.SampleInterval)
	newPts := SamplePoints(newLine, p.SampleInterval)

	res := Result{
		LSSRatio:  LSSRatio(oldPts, newPts, p.MatchTolerance),
		Hausdorff: HausdorffDistance(oldPts, newPts),
	}

	switch {
	case res.LSSRatio >= sameLSS && res.Hausdorff <= sameHausdorff:
		res.Type = TypeSame
	case res.LSSRatio >= widenedLSS && res.Hausdorff <= widenedHausdorff &&
		parallelOffset(oldPts, newPts):
		res.Type = TypeWidened
	case res.LSSRatio >= reroutedLSS:
		res.Type = TypeRerouted
	case endpointsCoincide(oldLine, newLine):
		res.Type = TypeReplaced
	default:
		res.Type = TypeUnmatched
	}
	return res
}

// parallelOffset reports whether the new line runs at a consistent
// sideways offset from the old one: perpendicular distances sampled
// along the old line cluster tightly around a nonzero mean.
func parallelOffset(oldPts, newPts []orb.Point) bool {
	if len(oldPts) < 2 || len(newPts) == 0 {
		return false
	}

	// Probe at a handful of positions along the old line.
	const probes = 7
	var dists []float64
	for i := 0; i < probes; i++ {
		idx := i * (len(oldPts) - 1) / (probes - 1)
		d := nearestDistance(oldPts[idx], newPts)
		dists = append(dists, d)
	}

	mean := 0.0
	for _, d := range dists {
		mean += d
	}
	mean /= float64(len(dists))
	if mean == 0 {
		return false
	}

	spread := 0.0
	for _, d := range dists {
		if dev := math.Abs(d - mean); dev > spread {
			spread = dev
		}
	}
	return spread <= parallelSpread
}

func nearestDistance(p orb.Point, pts []orb.Point) float64 {
	best := math.Inf(1)
	for _, q := range pts {
		if d := planar.Distance(p, q); d < best {
			best = d
		}
	}
	return best
}

// endpointsCoincide reports whether the two lines join the same
// junction pair, in either direction.
func endpointsCoincide(a, b orb.LineString) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	a0, a1 := a[0], a[len(a)-1]
	b0, b1 := b[0], b[len(b)-1]

	forward := planar.Distance(a0, b0) <= endpointTolerance &&
		planar.Distance(a1, b1) <= endpointTolerance
	reverse := planar.Distance(a0, b1) <= endpointTolerance &&
		planar.Distance(a1, b0) <= endpointTolerance
	return forward || reverse
}
