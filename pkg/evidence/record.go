// Package evidence stores dated facts about entities and folds them
// into one best date estimate per entity. Records are append/replace
// only, keyed by (entity, source); estimation is a pure function of an
// entity's record set so it can be re-run at any time.
package evidence

import (
	"fmt"

	"github.com/chronomap/chronomap/pkg/errors"
)

// Kind classifies what a record claims about an entity's existence.
type Kind string

// Evidence kinds.
const (
	// KindPresence: the entity existed by Year.
	KindPresence Kind = "presence"
	// KindAbsence: the entity did not yet exist before Year.
	KindAbsence Kind = "absence"
	// KindExact: the entity dates to exactly Year.
	KindExact Kind = "exact"
	// KindRange: the entity dates to somewhere in [YearFrom, YearTo].
	KindRange Kind = "range"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPresence, KindAbsence, KindExact, KindRange:
		return true
	}
	return false
}

// Record is one dated fact about one entity from one source.
// (EntityID, SourceID) is the unique key; re-adding replaces.
type Record struct {
	EntityID string
	SourceID string

	Kind Kind

	// Year carries the presence/absence/exact year.
	Year int

	// YearFrom and YearTo bound a range record.
	YearFrom int
	YearTo   int

	// EndYear is an optional demolition/removal claim.
	EndYear *int

	// Confidence in [0,1].
	Confidence float64
}

// Validate checks the record invariants. Failures are ValidationErrors
// satisfying errors.ErrInvalidInput.
func (r *Record) Validate() error {
	if r.EntityID == "" || r.SourceID == "" {
		return errors.NewValidationError("entity_id", r.EntityID, "evidence record needs entity and source ids")
	}
	if !r.Kind.Valid() {
		return errors.NewValidationError("kind", r.Kind, fmt.Sprintf("unknown evidence kind %q", r.Kind))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errors.NewValidationError("confidence", r.Confidence, fmt.Sprintf("confidence %v outside [0,1]", r.Confidence))
	}
	if r.Kind == KindRange && r.YearFrom > r.YearTo {
		return errors.NewValidationError("year_from", r.YearFrom, fmt.Sprintf("range %d..%d inverted", r.YearFrom, r.YearTo))
	}
	return nil
}

// Method tags how an estimate was derived.
type Method string

// Estimate methods.
const (
	MethodExact     Method = "exact"
	MethodBounded   Method = "bounded"
	MethodRange     Method = "range"
	MethodEstimated Method = "estimated"
	MethodUnknown   Method = "unknown"
)

// Estimate is the folded best date estimate for one entity. It is
// derived state: recomputed whenever the entity's records change.
type Estimate struct {
	EntityID string

	StartYear  *int
	StartLower int
	StartUpper int

	EndYear *int

	Confidence float64
	Method     Method

	// Sources lists every contributing source id; PrimarySource is the
	// highest-priority one.
	Sources       []string
	PrimarySource string
}
