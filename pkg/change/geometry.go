// Package change classifies how a road segment evolved between two
// sources: sampled-point sequence alignment (longest similar
// subsequence), Hausdorff distance, and the ordered change-type rules.
package change

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SamplePoints walks a line and emits points at a fixed real-world
// spacing, always including both endpoints. A non-positive interval or
// a degenerate line yields the line's own points.
func SamplePoints(line orb.LineString, interval float64) []orb.Point {
	if len(line) < 2 || interval <= 0 {
		return append([]orb.Point(nil), line...)
	}

	out := []orb.Point{line[0]}
	carried := 0.0

	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		segLen := planar.Distance(a, b)
		if segLen == 0 {
			continue
		}

		// Distance along this segment to the next sample.
		next := interval - carried
		for next <= segLen {
			t := next / segLen
			out = append(out, orb.Point{
				a[0] + (b[0]-a[0])*t,
				a[1] + (b[1]-a[1])*t,
			})
			next += interval
		}
		carried = segLen - (next - interval)
	}

	last := line[len(line)-1]
	if planar.Distance(out[len(out)-1], last) > 1e-9 {
		out = append(out, last)
	}
	return out
}

// Flatten merges a multi-line into one line string, in member order.
func Flatten(g orb.Geometry) orb.LineString {
	switch geom := g.(type) {
	case orb.LineString:
		return geom
	case orb.MultiLineString:
		var out orb.LineString
		for _, ls := range geom {
			out = append(out, ls...)
		}
		return out
	}
	return nil
}

// HausdorffDistance returns the symmetric Hausdorff distance between
// two sampled point sequences: the worst nearest-point distance in
// either direction.
func HausdorffDistance(a, b []orb.Point) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	d := directedHausdorff(a, b)
	if back := directedHausdorff(b, a); back > d {
		d = back
	}
	return d
}

func directedHausdorff(from, to []orb.Point) float64 {
	worst := 0.0
	for _, p := range from {
		best := math.Inf(1)
		for _, q := range to {
			if d := planar.Distance(p, q); d < best {
				best = d
			}
		}
		if best > worst {
			worst = best
		}
	}
	return worst
}
