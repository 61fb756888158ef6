package quality_test

import (
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/merge"
	"github.com/chronomap/chronomap/pkg/quality"
)

func intPtr(v int) *int { return &v }

func smallSquare() orb.Polygon {
	return orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
}

func TestBuildBuildingReport(t *testing.T) {
	future := time.Now().Year() + 10

	result := &merge.Result{
		Entities: []*merge.Entity{
			{
				ID: "a/1", Kind: features.KindBuilding, Geometry: smallSquare(),
				Strength: features.StrengthHigh, StartYear: intPtr(1887), DateSource: "a",
				SrcAll: []string{"a", "b"},
				ReplacedBy: &merge.ReplacementLink{
					OldID: "a/1", NewID: "a/2", DemolitionYear: 1960, Inferred: true,
				},
			},
			{
				ID: "a/2", Kind: features.KindBuilding, Geometry: smallSquare(),
				Strength: features.StrengthLow, StartYear: intPtr(1958),
				SrcAll: []string{"a"},
			},
			{
				ID: "a/3", Kind: features.KindBuilding, Geometry: smallSquare(),
				Strength: features.StrengthLow,
				SrcAll:   []string{"a"},
			},
			{
				ID: "a/future", Kind: features.KindBuilding, Geometry: smallSquare(),
				Strength: features.StrengthLow, StartYear: intPtr(future), DateSource: "a",
				SrcAll: []string{"a"},
			},
			{
				ID: "a/bad-range", Kind: features.KindBuilding, Geometry: smallSquare(),
				Strength: features.StrengthLow,
				StartYear: intPtr(1950), EndYear: intPtr(1900), DateSource: "a",
				SrcAll: []string{"a"},
			},
			{
				ID: "a/huge", Kind: features.KindBuilding,
				Geometry: orb.Polygon{orb.Ring{{0, 0}, {1000, 0}, {1000, 1000}, {0, 1000}, {0, 0}}},
				Strength: features.StrengthLow,
				SrcAll:   []string{"a"},
			},
		},
	}
	result.Summary.Kind = features.KindBuilding
	result.Summary.SkippedGeometry = 3

	r := quality.Build(result)

	assert.Equal(t, 6, r.Total)
	assert.Equal(t, 1, r.MultiSource)
	assert.Equal(t, 5, r.SingleSource)

	assert.Equal(t, 3, r.DateCoverage["explicit"])
	assert.Equal(t, 1, r.DateCoverage["estimated"])
	assert.Equal(t, 2, r.DateCoverage["unknown"])

	assert.Equal(t, 6, r.BySource["a"])
	assert.Equal(t, 1, r.BySource["b"])
	assert.Equal(t, 1, r.ByEvidence[features.StrengthHigh])

	assert.Equal(t, []string{"a/future"}, r.Anomalies.FutureDates)
	assert.Equal(t, []string{"a/bad-range"}, r.Anomalies.InvalidRanges)
	assert.Equal(t, []string{"a/huge"}, r.Anomalies.OversizedFootprint)

	assert.Equal(t, 1, r.Replacements.Total)
	assert.Equal(t, 1, r.Replacements.Inferred)
	assert.Equal(t, 1, r.Replacements.ByEra["<1900"])

	// Skip counts stay visible.
	assert.Equal(t, 3, r.SkippedGeometry)

	text := r.String()
	assert.True(t, strings.Contains(text, "3 invalid geometries"))
	assert.True(t, strings.Contains(text, "entities: 6"))
}

func TestBuildRoadReport(t *testing.T) {
	result := &merge.Result{
		Entities: []*merge.Entity{
			{
				ID: "m/1", Kind: features.KindRoad,
				Geometry: orb.LineString{{0, 0}, {100, 0}},
				Strength: features.StrengthLow, TypeCode: "residential",
				Change: change.TypeSame, Current: true,
				SrcAll: []string{"m", "h"},
			},
			{
				ID: "h/2", Kind: features.KindRoad,
				Geometry: orb.LineString{{0, 50}, {50, 50}},
				Strength: features.StrengthLow, TypeCode: "path",
				Change: merge.ChangeRemoved,
				SrcAll: []string{"h"},
			},
		},
	}
	result.Summary.Kind = features.KindRoad

	r := quality.Build(result)
	require.NotNil(t, r.Roads)
	assert.Equal(t, 1, r.Roads.ByType["residential"])
	assert.Equal(t, 1, r.Roads.ByChange[change.TypeSame])
	assert.Equal(t, 1, r.Roads.ByChange[merge.ChangeRemoved])
	assert.InDelta(t, 150.0, r.Roads.TotalLength, 1e-9)
	assert.Zero(t, r.Anomalies.Count())
}
