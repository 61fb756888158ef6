package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/logging"
)

func writeCollection(t *testing.T, path string, feats ...*geojson.Feature) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, f := range feats {
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func squareFeature(id string, minX, minY, size float64, props map[string]interface{}) *geojson.Feature {
	g := orb.Polygon{orb.Ring{
		{minX, minY}, {minX + size, minY},
		{minX + size, minY + size}, {minX, minY + size},
		{minX, minY},
	}}
	f := geojson.NewFeature(g)
	f.Properties = geojson.Properties{"local_id": id}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func lineFeature(id string, ls orb.LineString, props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(ls)
	f.Properties = geojson.Properties{"local_id": id}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func findEntity(t *testing.T, entities []*Entity, memberID string) *Entity {
	t.Helper()
	for _, e := range entities {
		for _, id := range e.MemberIDs {
			if id == memberID {
				return e
			}
		}
	}
	t.Fatalf("no entity contains member %s", memberID)
	return nil
}

func TestMatchState(t *testing.T) {
	s := NewMatchState()
	assert.True(t, s.Claim("a", "b"))
	assert.True(t, s.Claimed("a"))

	// All-or-nothing: "c" must not be claimed when "b" already is.
	assert.False(t, s.Claim("c", "b"))
	assert.False(t, s.Claimed("c"))

	assert.Equal(t, []string{"c"}, s.Filter([]string{"a", "b", "c"}))
	assert.Equal(t, 2, s.Count())
}

func TestBuildingMergeGeometryOnlySourcesIgnoreRegistryRef(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "cadastre.geojson"),
		squareFeature("100", 0, 0, 10, map[string]interface{}{
			"evidence": "high", "registry_ref": "BYG-77",
		}),
	)
	// Same reference but 5000 units away: geometry-only sources must
	// not fold on the reference alone.
	writeCollection(t, filepath.Join(dir, "heritage.geojson"),
		squareFeature("h-1", 5000, 5000, 10, map[string]interface{}{
			"evidence": "medium", "registry_ref": "BYG-77",
		}),
	)

	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "cadastre", Path: filepath.Join(dir, "cadastre.geojson"), Kind: "building", Priority: 1, MatchBy: []string{config.MatchByGeometry}},
			{ID: "heritage", Path: filepath.Join(dir, "heritage.geojson"), Kind: "building", Priority: 2, MatchBy: []string{config.MatchByGeometry}},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	m := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop)
	result, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	for _, e := range result.Entities {
		assert.Len(t, e.SrcAll, 1)
	}
}

func TestBuildingMergeTwoSources(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "cadastre.geojson"),
		squareFeature("100", 0, 0, 10, map[string]interface{}{
			"evidence": "high", "start_year": 1887, "name": "Old Mill",
		}),
	)
	writeCollection(t, filepath.Join(dir, "ml.geojson"),
		squareFeature("ml-1", 1, 1, 10, map[string]interface{}{
			"evidence": "low", "start_year": 1904,
		}),
		squareFeature("ml-2", 500, 500, 10, map[string]interface{}{
			"evidence": "low",
		}),
	)

	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "cadastre", Path: filepath.Join(dir, "cadastre.geojson"), Kind: "building", Priority: 1, Authoritative: true},
			{ID: "ml-1904", Path: filepath.Join(dir, "ml.geojson"), Kind: "building", Priority: 2, MapYear: 1904},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	m := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop)
	result, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	merged := findEntity(t, result.Entities, "cadastre/100")

	// SrcAll is exactly the contributing sources.
	assert.Equal(t, []string{"cadastre", "ml-1904"}, merged.SrcAll)
	assert.Len(t, merged.MemberIDs, 2)

	// Max strength across members.
	assert.Equal(t, features.StrengthHigh, merged.Strength)

	// Date from the lowest date-priority source.
	require.NotNil(t, merged.StartYear)
	assert.Equal(t, 1887, *merged.StartYear)
	assert.Equal(t, "cadastre", merged.DateSource)

	// Authoritative geometry wins.
	assert.Equal(t, "cadastre", merged.GeometrySource)

	// Audit trail covers both claims.
	assert.Len(t, merged.MergeInfo, 2)
	assert.Equal(t, 1904, *merged.MergeInfo["ml-1904"].StartYear)

	// Estimate attached from the evidence store.
	require.NotNil(t, merged.Estimate)
	assert.Equal(t, evidence.MethodExact, merged.Estimate.Method)

	// The unmatched far-away feature forms its own single-source entity.
	single := findEntity(t, result.Entities, "ml-1904/ml-2")
	assert.Equal(t, []string{"ml-1904"}, single.SrcAll)

	assert.Equal(t, 2, result.Summary.OutputCount)
	assert.Equal(t, 1, result.Summary.MultiSourceCount)
}

func TestBuildingMergeRoundTrip(t *testing.T) {
	// Merging one source against itself: one entity per feature,
	// src_all of length one, no replacements.
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "only.geojson"),
		squareFeature("1", 0, 0, 10, map[string]interface{}{"start_year": 1900}),
		squareFeature("2", 100, 100, 10, map[string]interface{}{"start_year": 1950}),
		squareFeature("3", 200, 200, 10, nil),
	)

	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "only", Path: filepath.Join(dir, "only.geojson"), Kind: "building", Priority: 1},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	result, err := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 3)

	for _, e := range result.Entities {
		assert.Len(t, e.SrcAll, 1)
		assert.Nil(t, e.ReplacedBy)
		assert.Empty(t, e.Change)
	}
	assert.Empty(t, result.Replacements)
}

func TestReplacementDetection(t *testing.T) {
	dir := t.TempDir()
	// Same source so the merge loop keeps them as separate entities.
	writeCollection(t, filepath.Join(dir, "reg.geojson"),
		squareFeature("old", 0, 0, 10, map[string]interface{}{
			"evidence": "high", "start_year": 1850,
		}),
		squareFeature("new-weak", 1, 1, 10, map[string]interface{}{
			"evidence": "low", "start_year": 1960,
		}),
	)
	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "reg", Path: filepath.Join(dir, "reg.geojson"), Kind: "building", Priority: 1},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	t.Run("below era minimum is never marked", func(t *testing.T) {
		result, err := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, result.Entities, 2)

		old := findEntity(t, result.Entities, "reg/old")
		assert.Nil(t, old.ReplacedBy)
		assert.Nil(t, old.EndYear)
		assert.Empty(t, result.Replacements)
	})

	t.Run("meeting era minimum marks and infers end year", func(t *testing.T) {
		writeCollection(t, filepath.Join(dir, "reg.geojson"),
			squareFeature("old", 0, 0, 10, map[string]interface{}{
				"evidence": "high", "start_year": 1850,
			}),
			squareFeature("new-strong", 1, 1, 10, map[string]interface{}{
				"evidence": "high", "start_year": 1960,
			}),
		)

		result, err := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop).Run(context.Background())
		require.NoError(t, err)

		old := findEntity(t, result.Entities, "reg/old")
		require.NotNil(t, old.ReplacedBy)
		assert.Equal(t, "reg/new-strong", old.ReplacedBy.NewID)
		assert.True(t, old.ReplacedBy.Inferred)
		require.NotNil(t, old.EndYear)
		assert.Equal(t, 1960, *old.EndYear)
		assert.Equal(t, 1, result.Summary.ReplacedCount)
		assert.Equal(t, 1, result.Summary.InferredEndYears)
	})

	t.Run("explicit end year is never overwritten", func(t *testing.T) {
		writeCollection(t, filepath.Join(dir, "reg.geojson"),
			squareFeature("old", 0, 0, 10, map[string]interface{}{
				"evidence": "high", "start_year": 1850, "end_year": 1931,
			}),
			squareFeature("new-strong", 1, 1, 10, map[string]interface{}{
				"evidence": "high", "start_year": 1960,
			}),
		)

		result, err := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop).Run(context.Background())
		require.NoError(t, err)

		old := findEntity(t, result.Entities, "reg/old")
		require.NotNil(t, old.ReplacedBy)
		assert.False(t, old.ReplacedBy.Inferred)
		assert.Equal(t, 1931, old.ReplacedBy.DemolitionYear)
		require.NotNil(t, old.EndYear)
		assert.Equal(t, 1931, *old.EndYear)
	})
}

func TestZeroLoadableSourcesFailsFast(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "gone", Path: filepath.Join(dir, "missing.geojson"), Kind: "building", Priority: 1},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	_, err := NewBuildingMerger(cfg, evidence.NewMemoryStore(), logging.Nop).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoSources)
	assert.True(t, errors.IsFatal(err))

	// Nothing was written.
	_, statErr := os.Stat(cfg.Output.Merged)
	assert.True(t, os.IsNotExist(statErr))
}

func roadConfig(dir string) *config.Config {
	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "roads-modern", Path: filepath.Join(dir, "modern.geojson"), Kind: "road", Priority: 1, Current: true, Authoritative: true},
			{ID: "ml-1904", Path: filepath.Join(dir, "historic.geojson"), Kind: "road", Priority: 2, MapYear: 1904},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestRoadMergeClassifiesAndDates(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "modern.geojson"),
		lineFeature("r1", orb.LineString{{0, 0}, {100, 0}}, map[string]interface{}{"name": "Main Street"}),
		lineFeature("r9", orb.LineString{{0, 900}, {100, 900}}, nil),
	)
	writeCollection(t, filepath.Join(dir, "historic.geojson"),
		lineFeature("h1", orb.LineString{{0, 1}, {100, 1}}, map[string]interface{}{"name": "Main Street"}),
		lineFeature("h2", orb.LineString{{0, 500}, {100, 500}}, nil),
	)
	cfg := roadConfig(dir)

	result, err := NewRoadMerger(cfg, evidence.NewMemoryStore(), logging.Nop, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 3)

	matched := findEntity(t, result.Entities, "roads-modern/r1")
	assert.Equal(t, []string{"ml-1904", "roads-modern"}, matched.SrcAll)
	assert.True(t, matched.Current)
	assert.Equal(t, change.TypeSame, matched.Change)

	// Dated by co-presence on the 1904 map sheet, demoted to low.
	require.NotNil(t, matched.StartYear)
	assert.Equal(t, 1904, *matched.StartYear)
	assert.Equal(t, features.StrengthLow, matched.Strength)

	// Historical-only road: removed, inferred end year.
	removed := findEntity(t, result.Entities, "ml-1904/h2")
	assert.False(t, removed.Current)
	assert.Equal(t, ChangeRemoved, removed.Change)
	require.NotNil(t, removed.EndYear)
	assert.Equal(t, 1950, *removed.EndYear)

	// Modern-only road: new.
	fresh := findEntity(t, result.Entities, "roads-modern/r9")
	assert.Equal(t, ChangeNew, fresh.Change)

	assert.Equal(t, 2, result.Summary.CurrentCount)
	assert.Equal(t, 1, result.Summary.RemovedCount)
}

func TestRoadHighEvidenceDateUntouched(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "modern.geojson"),
		lineFeature("r1", orb.LineString{{0, 0}, {100, 0}}, map[string]interface{}{
			"evidence": "high", "start_year": 1925,
		}),
	)
	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "roads-modern", Path: filepath.Join(dir, "modern.geojson"), Kind: "road", Priority: 1, Current: true},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	// A much older donor building sits right next to the road.
	donorYear := 1800
	donor := &Entity{
		ID:        "merged-donor",
		Kind:      features.KindBuilding,
		Geometry:  orb.Polygon{orb.Ring{{10, 5}, {20, 5}, {20, 15}, {10, 15}, {10, 5}}},
		StartYear: &donorYear,
	}

	result, err := NewRoadMerger(cfg, evidence.NewMemoryStore(), logging.Nop, []*Entity{donor}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)

	road := result.Entities[0]
	require.NotNil(t, road.StartYear)
	assert.Equal(t, 1925, *road.StartYear)
	assert.Equal(t, features.StrengthHigh, road.Strength)
	assert.Equal(t, "roads-modern", road.DateSource)
}

func TestRoadMediumDateOverwrittenByEarlierDonor(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "modern.geojson"),
		lineFeature("r1", orb.LineString{{0, 0}, {100, 0}}, map[string]interface{}{
			"evidence": "medium", "start_year": 1950,
		}),
	)
	cfg := &config.Config{
		Sources: []config.Source{
			{ID: "roads-modern", Path: filepath.Join(dir, "modern.geojson"), Kind: "road", Priority: 1, Current: true},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	donorYear := 1890
	donor := &Entity{
		ID:        "merged-donor",
		Kind:      features.KindBuilding,
		Geometry:  orb.Polygon{orb.Ring{{10, 5}, {20, 5}, {20, 15}, {10, 15}, {10, 5}}},
		StartYear: &donorYear,
	}

	result, err := NewRoadMerger(cfg, evidence.NewMemoryStore(), logging.Nop, []*Entity{donor}).Run(context.Background())
	require.NoError(t, err)

	road := result.Entities[0]
	require.NotNil(t, road.StartYear)
	// Donor 1890 minus the 2-year road-precedes-houses offset.
	assert.Equal(t, 1888, *road.StartYear)
	assert.Equal(t, features.StrengthLow, road.Strength)
}

func TestRoadCascadeSourceTagAndFallback(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, filepath.Join(dir, "a.geojson"),
		lineFeature("r1", orb.LineString{{0, 0}, {100, 0}}, nil),
	)
	writeCollection(t, filepath.Join(dir, "b.geojson"),
		lineFeature("r1", orb.LineString{{0, 500}, {100, 500}}, nil),
	)

	cfg := &config.Config{
		Sources: []config.Source{
			// Year embedded in the id, no map_year configured.
			{ID: "maps-1886", Path: filepath.Join(dir, "a.geojson"), Kind: "road", Priority: 1},
			// No year anywhere: hard fallback.
			{ID: "sketches", Path: filepath.Join(dir, "b.geojson"), Kind: "road", Priority: 2},
		},
		Output: config.Output{Merged: filepath.Join(dir, "merged.geojson")},
	}
	cfg.ApplyDefaults()

	result, err := NewRoadMerger(cfg, evidence.NewMemoryStore(), logging.Nop, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	tagged := findEntity(t, result.Entities, "maps-1886/r1")
	require.NotNil(t, tagged.StartYear)
	assert.Equal(t, 1886, *tagged.StartYear)

	fallback := findEntity(t, result.Entities, "sketches/r1")
	require.NotNil(t, fallback.StartYear)
	assert.Equal(t, 1900, *fallback.StartYear)
}

func TestWriteGeoJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "merged.geojson")

	year := 1887
	entities := []*Entity{{
		ID:        "cadastre/1",
		Kind:      features.KindBuilding,
		Geometry:  orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		Strength:  features.StrengthHigh,
		StartYear: &year,
		SrcAll:    []string{"cadastre"},
		MergeInfo: map[string]SourceClaim{},
	}}

	require.NoError(t, WriteGeoJSON(path, entities))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.EqualValues(t, 1887, fc.Features[0].Properties["start_year"])

	// No leftover temp files.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
