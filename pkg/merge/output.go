package merge

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
)

// WriteGeoJSON writes the merged entities as a GeoJSON feature
// collection. The write is atomic: a temp file in the target directory
// is renamed into place, so a failed run never leaves a partial file.
func WriteGeoJSON(path string, entities []*Entity) error {
	fc := geojson.NewFeatureCollection()
	for _, e := range entities {
		fc.Append(toGeoJSON(e))
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return errors.NewWriteError(path, err)
	}
	return writeAtomic(path, data)
}

// WriteJSON writes any report value as indented JSON, atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewWriteError(path, err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewWriteError(path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.NewWriteError(path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewWriteError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewWriteError(path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewWriteError(path, err)
	}
	return nil
}

// ReadGeoJSON loads a previously written merged collection back into
// entities, for post-hoc auditing without re-merging. Only the
// properties the quality reporter consumes are restored.
func ReadGeoJSON(path string) ([]*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.WrapIO("parse", path, err)
	}

	out := make([]*Entity, 0, len(fc.Features))
	for _, f := range fc.Features {
		props := f.Properties
		e := &Entity{
			ID:             props.MustString("id", ""),
			Kind:           features.Kind(props.MustString("kind", "")),
			Geometry:       f.Geometry,
			GeometrySource: props.MustString("geometry_source", ""),
			Name:           props.MustString("name", ""),
			TypeCode:       props.MustString("type", ""),
			Strength:       features.Strength(props.MustString("evidence", "")),
			DateSource:     props.MustString("date_source", ""),
			Change:         change.Type(props.MustString("change", "")),
		}
		if v, ok := props["current"].(bool); ok {
			e.Current = v
		}
		if y, ok := yearValue(props["start_year"]); ok {
			e.StartYear = &y
		}
		if y, ok := yearValue(props["end_year"]); ok {
			e.EndYear = &y
			explicit, _ := props["end_year_explicit"].(bool)
			e.EndYearExplicit = explicit
		}
		if srcs, ok := props["src_all"].([]interface{}); ok {
			for _, s := range srcs {
				if id, ok := s.(string); ok {
					e.SrcAll = append(e.SrcAll, id)
				}
			}
		}
		if newID, ok := props["replaced_by"].(string); ok {
			link := &ReplacementLink{OldID: e.ID, NewID: newID}
			if y, ok := yearValue(props["demolition_year"]); ok {
				link.DemolitionYear = y
			}
			link.Inferred, _ = props["demolition_inferred"].(bool)
			e.ReplacedBy = link
		}
		out = append(out, e)
	}
	return out, nil
}

func yearValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func toGeoJSON(e *Entity) *geojson.Feature {
	f := geojson.NewFeature(e.Geometry)
	f.ID = e.ID

	props := geojson.Properties{
		"id":              e.ID,
		"kind":            string(e.Kind),
		"evidence":        string(e.Strength),
		"src_all":         e.SrcAll,
		"geometry_source": e.GeometrySource,
	}
	if e.Name != "" {
		props["name"] = e.Name
	}
	if e.TypeCode != "" {
		props["type"] = e.TypeCode
	}
	if e.RegistryRef != "" {
		props["registry_ref"] = e.RegistryRef
	}
	if e.StartYear != nil {
		props["start_year"] = *e.StartYear
	}
	if e.EndYear != nil {
		props["end_year"] = *e.EndYear
		props["end_year_explicit"] = e.EndYearExplicit
	}
	if e.DateSource != "" {
		props["date_source"] = e.DateSource
	}
	if e.Estimate != nil {
		props["date_method"] = string(e.Estimate.Method)
		props["date_confidence"] = e.Estimate.Confidence
		if e.Estimate.Method != evidence.MethodUnknown && e.Estimate.StartYear != nil {
			props["date_lower"] = e.Estimate.StartLower
			props["date_upper"] = e.Estimate.StartUpper
		}
	}
	if e.ReplacedBy != nil {
		props["replaced_by"] = e.ReplacedBy.NewID
		props["demolition_year"] = e.ReplacedBy.DemolitionYear
		props["demolition_inferred"] = e.ReplacedBy.Inferred
	}
	if e.Change != "" {
		props["change"] = string(e.Change)
	}
	if e.Kind == features.KindRoad {
		props["current"] = e.Current
	}
	props["merge_info"] = e.MergeInfo
	props["updated_at"] = e.UpdatedAt.String()

	f.Properties = props
	return f
}
