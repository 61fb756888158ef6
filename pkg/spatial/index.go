// Package spatial provides candidate lookup and similarity scoring for
// the merge engine: a centroid quadtree over loaded features, polygon
// overlap scoring, line scoring with Hausdorff proximity and name
// similarity, and the registry-reference exact-key shortcut.
package spatial

import (
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"

	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/logging"
)

// indexWorkers bounds the pool that validates geometry and computes
// bounds during index construction.
const indexWorkers = 4

// item wraps an indexed feature so the quadtree can key it by centroid.
type item struct {
	centroid orb.Point
	bound    orb.Bound
	feature  *features.Feature
}

func (it *item) Point() orb.Point { return it.centroid }

// Index is a spatial index over one run's features of a single kind.
// Build once per merge run; read-only afterwards.
type Index struct {
	tree  *quadtree.Quadtree
	items []*item

	// buffer is the configured buffer distance; pad adds the largest
	// indexed feature half-extent so a centroid query cannot miss a
	// large candidate.
	buffer float64
	pad    float64

	// byRef indexes features by registry reference for the exact-key
	// shortcut.
	byRef map[string][]*features.Feature

	// Skipped counts features excluded for invalid geometry.
	Skipped int
}

// NewIndex builds a quadtree over the valid features. Features with
// degenerate geometry are excluded and counted in Skipped, never fatal.
func NewIndex(feats []*features.Feature, bufferDistance float64) *Index {
	log := logging.Default()

	idx := &Index{
		buffer: bufferDistance,
		byRef:  make(map[string][]*features.Feature),
	}

	// Validation and bound computation dominate build time, so they run
	// chunked across a small worker pool. Tree insertion stays
	// single-threaded; quadtree.Add is not safe for concurrent use.
	built := make([]*item, len(feats))
	errs := make([]error, len(feats))
	chunk := (len(feats) + indexWorkers - 1) / indexWorkers
	var wg sync.WaitGroup
	for start := 0; start < len(feats); start += chunk {
		end := min(start+chunk, len(feats))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f := feats[i]
				if err := f.ValidateGeometry(); err != nil {
					errs[i] = err
					continue
				}
				b := f.Bound()
				built[i] = &item{centroid: b.Center(), bound: b, feature: f}
			}
		}(start, end)
	}
	wg.Wait()

	var bound orb.Bound
	first := true
	maxHalfExtent := 0.0

	for i, f := range feats {
		if errs[i] != nil {
			idx.Skipped++
			log.Debug().
				Str("feature", f.ID()).
				Err(errs[i]).
				Msg("excluding feature with invalid geometry")
			continue
		}

		it := built[i]
		b := it.bound
		idx.items = append(idx.items, it)

		if first {
			bound = b
			first = false
		} else {
			bound = bound.Union(b)
		}
		if h := halfExtent(b); h > maxHalfExtent {
			maxHalfExtent = h
		}

		if f.RegistryRef != "" {
			idx.byRef[f.RegistryRef] = append(idx.byRef[f.RegistryRef], f)
		}
	}

	idx.pad = bufferDistance + maxHalfExtent

	if len(idx.items) == 0 {
		return idx
	}

	// The tree bound itself needs padding: centroids sit strictly
	// inside, but a degenerate (point-only) extent would reject adds on
	// the boundary.
	idx.tree = quadtree.New(bound.Pad(1))
	for _, it := range idx.items {
		if err := idx.tree.Add(it); err != nil {
			idx.Skipped++
			log.Debug().
				Str("feature", it.feature.ID()).
				Err(err).
				Msg("excluding feature outside index bound")
		}
	}

	return idx
}

// Len returns the number of indexed features.
func (idx *Index) Len() int {
	return len(idx.items)
}

// ByRegistryRef returns indexed features carrying the given registry
// reference.
func (idx *Index) ByRegistryRef(ref string) []*features.Feature {
	if ref == "" {
		return nil
	}
	return idx.byRef[ref]
}

// Candidates returns the indexed features whose bounds intersect the
// query feature's bound padded by the buffer distance. Precise scoring
// is the caller's job.
func (idx *Index) Candidates(f *features.Feature) []*features.Feature {
	if idx.tree == nil {
		return nil
	}

	query := f.Bound().Pad(idx.pad)
	hits := idx.tree.InBound(nil, query)

	out := make([]*features.Feature, 0, len(hits))
	for _, h := range hits {
		it := h.(*item)
		if it.feature.ID() == f.ID() {
			continue
		}
		if it.bound.Pad(idx.buffer).Intersects(f.Bound()) {
			out = append(out, it.feature)
		}
	}

	// Deterministic order before scoring.
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func halfExtent(b orb.Bound) float64 {
	w := (b.Max[0] - b.Min[0]) / 2
	h := (b.Max[1] - b.Min[1]) / 2
	if h > w {
		return h
	}
	return w
}
