// Package quality audits merge output: anomaly scan and aggregate
// statistics over a merged entity set. Pure aggregation, no mutation.
package quality

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"github.com/paulmach/orb/planar"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/merge"
)

// Plausibility limits. Values outside these flag an anomaly, they do
// not exclude the entity.
const (
	// maxPlausibleArea caps a single building footprint, in squared
	// length units of the dataset.
	maxPlausibleArea = 100000.0

	// minPlausibleYear guards against typo years far before any source.
	minPlausibleYear = 1000
)

// Anomalies lists entity ids per anomaly bucket. Ids, not counts, so
// an operator can follow up on each one.
type Anomalies struct {
	FutureDates        []string `json:"future_dates,omitempty"`
	ImplausibleYears   []string `json:"implausible_years,omitempty"`
	InvalidRanges      []string `json:"invalid_ranges,omitempty"`
	MissingGeometry    []string `json:"missing_geometry,omitempty"`
	OversizedFootprint []string `json:"oversized_footprint,omitempty"`
}

// Count returns the total number of flagged entities.
func (a *Anomalies) Count() int {
	return len(a.FutureDates) + len(a.ImplausibleYears) + len(a.InvalidRanges) +
		len(a.MissingGeometry) + len(a.OversizedFootprint)
}

// RoadStats aggregates road-specific measures.
type RoadStats struct {
	ByType      map[string]int      `json:"by_type"`
	ByChange    map[change.Type]int `json:"by_change"`
	TotalLength float64             `json:"total_length"`
}

// ReplacementStats breaks replacements down by inference and era.
type ReplacementStats struct {
	Total    int            `json:"total"`
	Inferred int            `json:"inferred"`
	Explicit int            `json:"explicit"`
	ByEra    map[string]int `json:"by_era,omitempty"`
}

// Report is the full quality report for one merge run.
type Report struct {
	GeneratedAt utc.Time      `json:"generated_at"`
	Kind        features.Kind `json:"kind"`
	RunID       string        `json:"run_id"`

	Total        int `json:"total"`
	SingleSource int `json:"single_source"`
	MultiSource  int `json:"multi_source"`

	// DateCoverage buckets: explicit, estimated, unknown.
	DateCoverage map[string]int `json:"date_coverage"`

	BySource   map[string]int            `json:"by_source"`
	ByEvidence map[features.Strength]int `json:"by_evidence"`

	// SkippedGeometry carries the load/index exclusion count so skips
	// are never silently dropped.
	SkippedGeometry int      `json:"skipped_geometry"`
	SkippedSources  []string `json:"skipped_sources,omitempty"`

	Anomalies    Anomalies        `json:"anomalies"`
	Replacements ReplacementStats `json:"replacements"`
	Roads        *RoadStats       `json:"roads,omitempty"`
}

// Build aggregates a quality report from a merge result.
func Build(result *merge.Result) *Report {
	r := &Report{
		GeneratedAt:     utc.Now(),
		Kind:            result.Summary.Kind,
		RunID:           result.Summary.RunID,
		Total:           len(result.Entities),
		DateCoverage:    map[string]int{"explicit": 0, "estimated": 0, "unknown": 0},
		BySource:        make(map[string]int),
		ByEvidence:      make(map[features.Strength]int),
		SkippedGeometry: result.Summary.SkippedGeometry,
		SkippedSources:  result.Summary.SkippedSources,
	}

	currentYear := time.Now().Year()
	var roads *RoadStats

	for _, e := range result.Entities {
		if len(e.SrcAll) > 1 {
			r.MultiSource++
		} else {
			r.SingleSource++
		}
		for _, src := range e.SrcAll {
			r.BySource[src]++
		}
		r.ByEvidence[e.Strength]++

		switch {
		case e.StartYear != nil && e.DateSource != "":
			r.DateCoverage["explicit"]++
		case e.StartYear != nil:
			r.DateCoverage["estimated"]++
		default:
			r.DateCoverage["unknown"]++
		}

		r.scanAnomalies(e, currentYear)

		if e.Kind == features.KindRoad {
			if roads == nil {
				roads = &RoadStats{
					ByType:   make(map[string]int),
					ByChange: make(map[change.Type]int),
				}
			}
			if e.TypeCode != "" {
				roads.ByType[e.TypeCode]++
			}
			if e.Change != "" {
				roads.ByChange[e.Change]++
			}
			if e.Geometry != nil {
				roads.TotalLength += planar.Length(e.Geometry)
			}
		}

		if e.ReplacedBy != nil {
			r.Replacements.Total++
			if e.ReplacedBy.Inferred {
				r.Replacements.Inferred++
			} else {
				r.Replacements.Explicit++
			}
			if e.StartYear != nil {
				if r.Replacements.ByEra == nil {
					r.Replacements.ByEra = make(map[string]int)
				}
				r.Replacements.ByEra[eraBucket(*e.StartYear)]++
			}
		}
	}

	r.Roads = roads
	sortAnomalies(&r.Anomalies)
	return r
}

func (r *Report) scanAnomalies(e *merge.Entity, currentYear int) {
	if e.StartYear != nil {
		if *e.StartYear > currentYear {
			r.Anomalies.FutureDates = append(r.Anomalies.FutureDates, e.ID)
		} else if *e.StartYear < minPlausibleYear {
			r.Anomalies.ImplausibleYears = append(r.Anomalies.ImplausibleYears, e.ID)
		}
	}
	if e.StartYear != nil && e.EndYear != nil && *e.StartYear > *e.EndYear {
		r.Anomalies.InvalidRanges = append(r.Anomalies.InvalidRanges, e.ID)
	}
	if e.Geometry == nil {
		r.Anomalies.MissingGeometry = append(r.Anomalies.MissingGeometry, e.ID)
		return
	}
	if e.Kind == features.KindBuilding {
		if area := planar.Area(e.Geometry); area > maxPlausibleArea || area < -maxPlausibleArea {
			r.Anomalies.OversizedFootprint = append(r.Anomalies.OversizedFootprint, e.ID)
		}
	}
}

func sortAnomalies(a *Anomalies) {
	sort.Strings(a.FutureDates)
	sort.Strings(a.ImplausibleYears)
	sort.Strings(a.InvalidRanges)
	sort.Strings(a.MissingGeometry)
	sort.Strings(a.OversizedFootprint)
}

func eraBucket(year int) string {
	switch {
	case year < 1900:
		return "<1900"
	case year < 1950:
		return "1900-1950"
	default:
		return "1950+"
	}
}

// String renders the report human-readably; printed even on partial
// success so skip counts stay visible.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quality report (%s, run %s)\n", r.Kind, r.RunID)
	fmt.Fprintf(&b, "  entities: %d (%d single-source, %d multi-source)\n",
		r.Total, r.SingleSource, r.MultiSource)
	fmt.Fprintf(&b, "  dates: %d explicit, %d estimated, %d unknown\n",
		r.DateCoverage["explicit"], r.DateCoverage["estimated"], r.DateCoverage["unknown"])
	fmt.Fprintf(&b, "  skipped: %d invalid geometries, %d unavailable sources\n",
		r.SkippedGeometry, len(r.SkippedSources))
	fmt.Fprintf(&b, "  anomalies: %d\n", r.Anomalies.Count())
	if r.Replacements.Total > 0 {
		fmt.Fprintf(&b, "  replacements: %d (%d inferred, %d explicit)\n",
			r.Replacements.Total, r.Replacements.Inferred, r.Replacements.Explicit)
	}
	if r.Roads != nil {
		fmt.Fprintf(&b, "  roads: total length %.1f, changes %v\n",
			r.Roads.TotalLength, r.Roads.ByChange)
	}
	return b.String()
}
