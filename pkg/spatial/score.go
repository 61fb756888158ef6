package spatial

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/features"
)

// overlapGridSize fixes the sampling grid for polygon intersection
// area. Closed-form polygon clipping is out of scope; a fixed grid
// keeps the estimate deterministic.
const overlapGridSize = 24

// Match pairs a candidate with its similarity score. Exact marks a
// registry-reference match, which outranks any geometric score.
type Match struct {
	Feature *features.Feature
	Score   float64
	Exact   bool
}

// Strategies reports which match strategies a source participates in.
// A nil Strategies enables both for every source.
type Strategies func(sourceID string) (registryRef, geometry bool)

// Matcher scores candidates from an Index against a query feature.
type Matcher struct {
	index      *Index
	cfg        config.Matching
	priority   func(sourceID string) int
	strategies Strategies
}

// NewMatcher wraps an index with the scoring thresholds, a source
// priority function used for deterministic ranking, and the per-source
// strategy gate. A nil priority treats all sources equal.
func NewMatcher(index *Index, cfg config.Matching, priority func(string) int, strategies Strategies) *Matcher {
	if priority == nil {
		priority = func(string) int { return 0 }
	}
	if strategies == nil {
		strategies = func(string) (bool, bool) { return true, true }
	}
	return &Matcher{index: index, cfg: cfg, priority: priority, strategies: strategies}
}

// Index returns the underlying index.
func (m *Matcher) Index() *Index { return m.index }

// FindMatches returns candidates scoring at or above threshold, ranked
// score-descending with ties broken by source priority then feature id.
// A registry-reference match short-circuits geometry entirely, but only
// between sources whose strategy list includes it.
func (m *Matcher) FindMatches(f *features.Feature, threshold float64) []Match {
	useRef, useGeom := m.strategies(f.SourceID)

	if useRef && f.RegistryRef != "" {
		var out []Match
		for _, c := range m.index.ByRegistryRef(f.RegistryRef) {
			if c.ID() == f.ID() {
				continue
			}
			if refOK, _ := m.strategies(c.SourceID); !refOK {
				continue
			}
			out = append(out, Match{Feature: c, Score: 1, Exact: true})
		}
		if len(out) > 0 {
			m.rank(out)
			return out
		}
	}

	if !useGeom {
		return nil
	}

	var out []Match
	for _, c := range m.index.Candidates(f) {
		if _, geomOK := m.strategies(c.SourceID); !geomOK {
			continue
		}
		score := m.Score(f, c)
		if score >= threshold {
			out = append(out, Match{Feature: c, Score: score})
		}
	}
	m.rank(out)
	return out
}

func (m *Matcher) rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		pi, pj := m.priority(matches[i].Feature.SourceID), m.priority(matches[j].Feature.SourceID)
		if pi != pj {
			return pi < pj
		}
		return matches[i].Feature.ID() < matches[j].Feature.ID()
	})
}

// Score computes the similarity of two features. Polygon pairs score
// by overlap ratio, line pairs by the weighted overlap/proximity/name
// sum, point-polygon by containment. Mixed areal/linear pairs score 0.
func (m *Matcher) Score(a, b *features.Feature) float64 {
	switch {
	case a.IsPolygon() && b.IsPolygon():
		return polygonOverlap(a.Geometry, b.Geometry)
	case a.IsLine() && b.IsLine():
		return m.lineScore(a, b)
	case a.IsPolygon() || b.IsPolygon():
		// One polygon, one point.
		if p, ok := pointOf(a, b); ok {
			poly := a
			if b.IsPolygon() {
				poly = b
			}
			if geometryContains(poly.Geometry, p) {
				return 1
			}
		}
		return 0
	default:
		if pa, ok := a.Geometry.(orb.Point); ok {
			if pb, ok := b.Geometry.(orb.Point); ok {
				return pointScore(pa, pb, m.cfg.BufferDistance)
			}
		}
		return 0
	}
}

// polygonOverlap estimates intersection area / smaller area by
// sampling a fixed grid over the bound intersection.
func polygonOverlap(a, b orb.Geometry) float64 {
	inter, ok := boundIntersection(a.Bound(), b.Bound())
	if !ok {
		return 0
	}

	// Area is winding-sensitive; inputs are not guaranteed wound
	// consistently.
	areaA := math.Abs(planar.Area(a))
	areaB := math.Abs(planar.Area(b))
	smaller := areaA
	if areaB < smaller {
		smaller = areaB
	}
	if smaller <= 0 {
		return 0
	}

	dx := (inter.Max[0] - inter.Min[0]) / overlapGridSize
	dy := (inter.Max[1] - inter.Min[1]) / overlapGridSize
	if dx <= 0 || dy <= 0 {
		return 0
	}

	hits := 0
	for i := 0; i < overlapGridSize; i++ {
		for j := 0; j < overlapGridSize; j++ {
			p := orb.Point{
				inter.Min[0] + (float64(i)+0.5)*dx,
				inter.Min[1] + (float64(j)+0.5)*dy,
			}
			if geometryContains(a, p) && geometryContains(b, p) {
				hits++
			}
		}
	}

	boundArea := (inter.Max[0] - inter.Min[0]) * (inter.Max[1] - inter.Min[1])
	interArea := boundArea * float64(hits) / float64(overlapGridSize*overlapGridSize)

	ratio := interArea / smaller
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// lineScore is the weighted sum of buffered overlap, Hausdorff
// proximity, and name similarity.
func (m *Matcher) lineScore(a, b *features.Feature) float64 {
	la := change.Flatten(a.Geometry)
	lb := change.Flatten(b.Geometry)
	if len(la) < 2 || len(lb) < 2 {
		return 0
	}

	ptsA := change.SamplePoints(la, m.cfg.SampleInterval)
	ptsB := change.SamplePoints(lb, m.cfg.SampleInterval)

	// Overlap: fraction of the shorter line's samples within the
	// buffer distance of the other line.
	shortPts, otherLine := ptsA, lb
	if len(ptsB) < len(ptsA) {
		shortPts, otherLine = ptsB, la
	}
	within := 0
	for _, p := range shortPts {
		if planar.DistanceFrom(otherLine, p) <= m.cfg.BufferDistance {
			within++
		}
	}
	overlap := float64(within) / float64(len(shortPts))

	proximity := 1 - change.HausdorffDistance(ptsA, ptsB)/m.cfg.HausdorffThreshold
	if proximity < 0 {
		proximity = 0
	}

	name := NameSimilarity(a.Name, b.Name)

	return m.cfg.OverlapWeight*overlap +
		m.cfg.ProximityWeight*proximity +
		m.cfg.NameWeight*name
}

func pointScore(a, b orb.Point, buffer float64) float64 {
	if buffer <= 0 {
		return 0
	}
	d := planar.Distance(a, b)
	if d > buffer {
		return 0
	}
	return 1 - d/buffer
}

func pointOf(a, b *features.Feature) (orb.Point, bool) {
	if p, ok := a.Geometry.(orb.Point); ok {
		return p, true
	}
	if p, ok := b.Geometry.(orb.Point); ok {
		return p, true
	}
	return orb.Point{}, false
}

func geometryContains(g orb.Geometry, p orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	}
	return false
}

func boundIntersection(a, b orb.Bound) (orb.Bound, bool) {
	out := orb.Bound{
		Min: orb.Point{maxf(a.Min[0], b.Min[0]), maxf(a.Min[1], b.Min[1])},
		Max: orb.Point{minf(a.Max[0], b.Max[0]), minf(a.Max[1], b.Max[1])},
	}
	if out.Min[0] >= out.Max[0] || out.Min[1] >= out.Max[1] {
		return orb.Bound{}, false
	}
	return out, true
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
