package features

import (
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/logging"
)

// Property keys of the normalized schema. The normalization layer is
// external; the merge engine only ever reads these keys.
const (
	PropSource      = "source"
	PropLocalID     = "local_id"
	PropEvidence    = "evidence"
	PropStartYear   = "start_year"
	PropEndYear     = "end_year"
	PropName        = "name"
	PropType        = "type"
	PropRegistryRef = "registry_ref"
)

// LoadStats counts what happened while loading one source collection.
type LoadStats struct {
	SourceID string `json:"source_id"`
	Total    int    `json:"total"`
	Loaded   int    `json:"loaded"`
	Invalid  int    `json:"invalid"` // degenerate geometry, excluded
	NoID     int    `json:"no_id"`   // missing local id, excluded
}

// Load reads one normalized GeoJSON feature collection from disk.
// A missing or unparseable file yields a SourceError so the caller can
// skip the source and continue the run. Features with degenerate
// geometry or no local id are excluded and counted, never fatal.
func Load(sourceID, path string) ([]*Feature, LoadStats, error) {
	stats := LoadStats{SourceID: sourceID}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stats, errors.NewSourceError(sourceID, path, "cannot read collection", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, stats, errors.NewSourceError(sourceID, path, "cannot parse collection", err)
	}

	log := logging.Default()
	result := make([]*Feature, 0, len(fc.Features))
	stats.Total = len(fc.Features)

	for _, gf := range fc.Features {
		f := fromGeoJSON(sourceID, gf)
		if f.LocalID == "" {
			stats.NoID++
			log.Debug().Str("source", sourceID).Msg("feature without local id skipped")
			continue
		}
		if err := f.ValidateGeometry(); err != nil {
			stats.Invalid++
			log.Debug().
				Str("source", sourceID).
				Str("feature", f.LocalID).
				Str("reason", err.Error()).
				Msg("invalid geometry skipped")
			continue
		}
		result = append(result, f)
	}

	stats.Loaded = len(result)
	log.Info().
		Str("source", sourceID).
		Int("loaded", stats.Loaded).
		Int("invalid", stats.Invalid).
		Msg("Source loaded")

	return result, stats, nil
}

// fromGeoJSON converts one GeoJSON feature into the normalized schema.
func fromGeoJSON(sourceID string, gf *geojson.Feature) *Feature {
	props := gf.Properties

	f := &Feature{
		Geometry:    gf.Geometry,
		SourceID:    sourceID,
		LocalID:     props.MustString(PropLocalID, ""),
		Strength:    Strength(props.MustString(PropEvidence, string(StrengthLow))),
		Name:        props.MustString(PropName, ""),
		TypeCode:    props.MustString(PropType, ""),
		RegistryRef: props.MustString(PropRegistryRef, ""),
	}

	// The collection may carry its own source id; the configured one wins.
	if f.SourceID == "" {
		f.SourceID = props.MustString(PropSource, "")
	}
	if !f.Strength.Valid() {
		f.Strength = StrengthLow
	}

	// Fall back to the GeoJSON feature id when the normalized local id
	// property is absent.
	if f.LocalID == "" && gf.ID != nil {
		switch id := gf.ID.(type) {
		case string:
			f.LocalID = id
		case float64:
			f.LocalID = formatNumericID(id)
		}
	}

	if y, ok := yearProp(props, PropStartYear); ok {
		f.StartYear = &y
	}
	if y, ok := yearProp(props, PropEndYear); ok {
		f.EndYear = &y
	}

	return f
}

// yearProp reads a year property that JSON decoding may have produced
// as float64, int, or string-free absence.
func yearProp(props geojson.Properties, key string) (int, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func formatNumericID(v float64) string {
	// GeoJSON numeric ids are whole numbers in practice.
	return strconv.FormatInt(int64(v), 10)
}
