// Package features defines the normalized feature schema the merge
// engine consumes. Features arrive already normalized per source; this
// package only loads, validates, and serves them as immutable values.
package features

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/chronomap/chronomap/pkg/errors"
)

// Strength is the coarse confidence tier the normalization layer
// assigns to a source's claims.
type Strength string

// Evidence strength tiers, ordered high > medium > low.
const (
	StrengthHigh   Strength = "high"
	StrengthMedium Strength = "medium"
	StrengthLow    Strength = "low"
)

// Valid reports whether s is one of the three known tiers.
func (s Strength) Valid() bool {
	switch s {
	case StrengthHigh, StrengthMedium, StrengthLow:
		return true
	}
	return false
}

// Rank returns an ordering value for strength comparison
// (high=3, medium=2, low=1, unknown=0).
func (s Strength) Rank() int {
	switch s {
	case StrengthHigh:
		return 3
	case StrengthMedium:
		return 2
	case StrengthLow:
		return 1
	}
	return 0
}

// Max returns the stronger of two tiers.
func Max(a, b Strength) Strength {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Kind distinguishes the two entity classes the engine merges.
type Kind string

// Feature kinds.
const (
	KindBuilding Kind = "building"
	KindRoad     Kind = "road"
)

// Feature is one normalized record from one source: a geometry plus
// the properties the normalization layer extracted. Immutable once
// loaded.
type Feature struct {
	Geometry orb.Geometry

	SourceID string
	LocalID  string
	Strength Strength

	StartYear *int
	EndYear   *int

	Name        string
	TypeCode    string
	RegistryRef string
}

// ID returns the globally unique feature id, composed from the source
// id and the source-local id.
func (f *Feature) ID() string {
	return f.SourceID + "/" + f.LocalID
}

// Bound returns the geometry bound, or a zero bound for nil geometry.
func (f *Feature) Bound() orb.Bound {
	if f.Geometry == nil {
		return orb.Bound{}
	}
	return f.Geometry.Bound()
}

// IsPolygon reports whether the feature carries areal geometry.
func (f *Feature) IsPolygon() bool {
	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

// IsLine reports whether the feature carries linear geometry.
func (f *Feature) IsLine() bool {
	switch f.Geometry.(type) {
	case orb.LineString, orb.MultiLineString:
		return true
	}
	return false
}

// ValidateGeometry checks the feature geometry for degeneracy. A
// failure is a GeometryError satisfying errors.ErrInvalidGeometry; the
// merge engine excludes (and counts) such features, it never aborts on
// them.
func (f *Feature) ValidateGeometry() error {
	if err := validGeometry(f.Geometry); err != nil {
		return errors.NewGeometryError(f.SourceID, f.LocalID, err.Error())
	}
	return nil
}

func validGeometry(geometry orb.Geometry) error {
	if geometry == nil {
		return fmt.Errorf("nil geometry")
	}

	switch g := geometry.(type) {
	case orb.Point:
		if !finitePoint(g) {
			return fmt.Errorf("non-finite point coordinates")
		}
	case orb.LineString:
		if len(g) < 2 {
			return fmt.Errorf("line has %d points, need at least 2", len(g))
		}
		for _, p := range g {
			if !finitePoint(p) {
				return fmt.Errorf("non-finite line coordinates")
			}
		}
	case orb.MultiLineString:
		if len(g) == 0 {
			return fmt.Errorf("empty multi-line")
		}
		for _, ls := range g {
			if len(ls) < 2 {
				return fmt.Errorf("multi-line member has %d points, need at least 2", len(ls))
			}
		}
	case orb.Polygon:
		return validatePolygon(g)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return fmt.Errorf("empty multi-polygon")
		}
		for _, poly := range g {
			if err := validatePolygon(poly); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", geometry)
	}

	return nil
}

func validatePolygon(poly orb.Polygon) error {
	if len(poly) == 0 {
		return fmt.Errorf("polygon has no rings")
	}
	for _, ring := range poly {
		if len(ring) < 4 {
			// A closed ring needs at least 3 distinct vertices.
			return fmt.Errorf("polygon ring has %d points, need at least 4", len(ring))
		}
		for _, p := range ring {
			if !finitePoint(p) {
				return fmt.Errorf("non-finite polygon coordinates")
			}
		}
	}
	return nil
}

func finitePoint(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) &&
		!math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}
