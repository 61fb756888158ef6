// Package merge implements the building and road merge orchestrators:
// priority-ordered folding of matched features into merged entities,
// replacement detection, the road date-inference cascade, and the
// current/removed partition.
package merge

import (
	"sort"

	"github.com/agentstation/utc"
	"github.com/paulmach/orb"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
)

// SourceClaim records what one source offered for a merged entity, the
// per-source audit trail behind the resolved values.
type SourceClaim struct {
	FeatureID string            `json:"feature_id"`
	StartYear *int              `json:"start_year,omitempty"`
	EndYear   *int              `json:"end_year,omitempty"`
	Strength  features.Strength `json:"strength"`
}

// ReplacementLink records a detected building replacement.
type ReplacementLink struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`

	// DemolitionYear is the old building's inferred or explicit end.
	DemolitionYear int `json:"demolition_year"`

	// Inferred is false when the old building carried an explicit end
	// year already.
	Inferred bool `json:"inferred"`

	// Evidence is the replacing building's strength tier.
	Evidence features.Strength `json:"evidence"`
}

// Entity is one merged building or road: a single geometry, the
// resolved properties, and full provenance.
type Entity struct {
	ID   string        `json:"id"`
	Kind features.Kind `json:"kind"`

	Geometry       orb.Geometry `json:"-"`
	GeometrySource string       `json:"geometry_source"`

	Name        string `json:"name,omitempty"`
	TypeCode    string `json:"type,omitempty"`
	RegistryRef string `json:"registry_ref,omitempty"`

	Strength  features.Strength `json:"strength"`
	StartYear *int              `json:"start_year,omitempty"`
	EndYear   *int              `json:"end_year,omitempty"`

	// DateSource is the source whose date claim won resolution.
	DateSource string `json:"date_source,omitempty"`

	// EndYearExplicit marks an end year that came from a source claim
	// rather than inference; explicit values are never overwritten.
	EndYearExplicit bool `json:"end_year_explicit,omitempty"`

	// SrcAll is exactly the set of contributing source ids, sorted.
	SrcAll []string `json:"src_all"`

	// MemberIDs lists every folded feature id.
	MemberIDs []string `json:"member_ids"`

	// MergeInfo maps source id to the claim that source offered.
	MergeInfo map[string]SourceClaim `json:"merge_info"`

	// Estimate is the folded date estimate from the evidence store.
	Estimate *evidence.Estimate `json:"estimate,omitempty"`

	ReplacedBy *ReplacementLink `json:"replaced_by,omitempty"`

	// Change labels a road's evolution; empty for buildings and for
	// roads with nothing to compare against.
	Change change.Type `json:"change,omitempty"`

	// Current marks a road present in the authoritative modern source.
	Current bool `json:"current,omitempty"`

	UpdatedAt utc.Time `json:"updated_at"`
}

// Resolution labels assigned by the road orchestrator for roads with
// no counterpart to classify against.
const (
	ChangeRemoved change.Type = "removed"
	ChangeNew     change.Type = "new"
)

// foldRules carries the per-source knobs the fold needs.
type foldRules struct {
	datePriority  func(sourceID string) int
	authoritative map[string]bool
	current       map[string]bool
}

// foldEntity merges a primary feature and its matches into one entity,
// applying the property and geometry selection rules. The primary
// feature comes first; matches arrive in rank order.
func foldEntity(kind features.Kind, primary *features.Feature, matches []*features.Feature, rules foldRules) *Entity {
	members := append([]*features.Feature{primary}, matches...)

	e := &Entity{
		ID:        primary.ID(),
		Kind:      kind,
		MergeInfo: make(map[string]SourceClaim, len(members)),
		UpdatedAt: utc.Now(),
	}

	srcSet := make(map[string]bool, len(members))
	for _, f := range members {
		srcSet[f.SourceID] = true
		e.MemberIDs = append(e.MemberIDs, f.ID())
		e.Strength = features.Max(e.Strength, f.Strength)

		claim := SourceClaim{FeatureID: f.ID(), Strength: f.Strength}
		if f.StartYear != nil {
			y := *f.StartYear
			claim.StartYear = &y
		}
		if f.EndYear != nil {
			y := *f.EndYear
			claim.EndYear = &y
		}
		e.MergeInfo[f.SourceID] = claim

		if e.Name == "" {
			e.Name = f.Name
		}
		if e.TypeCode == "" {
			e.TypeCode = f.TypeCode
		}
		if e.RegistryRef == "" {
			e.RegistryRef = f.RegistryRef
		}
		if rules.current[f.SourceID] {
			e.Current = true
		}
	}

	for id := range srcSet {
		e.SrcAll = append(e.SrcAll, id)
	}
	sort.Strings(e.SrcAll)
	sort.Strings(e.MemberIDs)

	e.resolveDates(members, rules.datePriority)
	e.selectGeometry(members, rules.authoritative)
	return e
}

// resolveDates applies the date resolution rule: among members carrying
// a start year, the one from the numerically lowest date-priority
// source wins; a single-sided claim is simply used.
func (e *Entity) resolveDates(members []*features.Feature, datePriority func(string) int) {
	var winner *features.Feature
	for _, f := range members {
		if f.StartYear == nil {
			continue
		}
		if winner == nil {
			winner = f
			continue
		}
		pf, pw := datePriority(f.SourceID), datePriority(winner.SourceID)
		if pf < pw || (pf == pw && f.SourceID < winner.SourceID) {
			winner = f
		}
	}
	if winner != nil {
		y := *winner.StartYear
		e.StartYear = &y
		e.DateSource = winner.SourceID
	}

	// End year resolution follows the same rule, independently: a
	// source may know the demolition without knowing the start.
	winner = nil
	for _, f := range members {
		if f.EndYear == nil {
			continue
		}
		if winner == nil {
			winner = f
			continue
		}
		pf, pw := datePriority(f.SourceID), datePriority(winner.SourceID)
		if pf < pw || (pf == pw && f.SourceID < winner.SourceID) {
			winner = f
		}
	}
	if winner != nil {
		y := *winner.EndYear
		e.EndYear = &y
		e.EndYearExplicit = true
	}
}

// selectGeometry prefers the designated authoritative source, then any
// polygon over a point, then the primary member.
func (e *Entity) selectGeometry(members []*features.Feature, authoritative map[string]bool) {
	pick := func(f *features.Feature) {
		e.Geometry = f.Geometry
		e.GeometrySource = f.SourceID
	}

	for _, f := range members {
		if authoritative[f.SourceID] {
			pick(f)
			return
		}
	}
	for _, f := range members {
		if f.IsPolygon() {
			pick(f)
			return
		}
	}
	pick(members[0])
}
