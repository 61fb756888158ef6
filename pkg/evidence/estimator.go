package evidence

import (
	"sort"
	"time"
)

// Estimation constants. The search window opens at WindowStart because
// no source in the corpus predates the earliest cadastral records.
const (
	WindowStart = 1700

	// exactConfidenceFloor is the confidence an exact record needs to
	// short-circuit estimation.
	exactConfidenceFloor = 0.7

	// looseExactHalfWidth is the ± window a low-confidence exact record
	// contributes instead of a hard year.
	looseExactHalfWidth = 10

	// repairHalfWidth is the ± window used when folded bounds
	// contradict each other and collapse to their midpoint.
	repairHalfWidth = 20

	// countBoost is the per-extra-record confidence boost, capped at
	// maxCountBoost.
	countBoost    = 0.02
	maxCountBoost = 0.10

	// maxConfidence caps every estimate.
	maxConfidence = 0.95
)

// PriorityFunc orders sources; lower return = higher authority.
// Unknown sources should return a large value.
type PriorityFunc func(sourceID string) int

// BestEstimate folds an entity's evidence records into one estimate.
// It is pure and order-independent: records are sorted internally by
// source priority then source id, so permuting the input changes
// nothing.
func BestEstimate(records []Record, priority PriorityFunc) Estimate {
	if priority == nil {
		priority = func(string) int { return 0 }
	}

	if len(records) == 0 {
		return Estimate{Method: MethodUnknown}
	}

	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := priority(ordered[i].SourceID), priority(ordered[j].SourceID)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].SourceID < ordered[j].SourceID
	})

	est := Estimate{
		EntityID:      ordered[0].EntityID,
		PrimarySource: ordered[0].SourceID,
	}
	for _, r := range ordered {
		est.Sources = append(est.Sources, r.SourceID)
	}
	est.EndYear = foldEndYear(ordered)

	// 1. A confident exact record wins outright; first in priority
	// order.
	for _, r := range ordered {
		if r.Kind == KindExact && r.Confidence >= exactConfidenceFloor {
			year := r.Year
			est.StartYear = &year
			est.StartLower = year
			est.StartUpper = year
			est.Confidence = clampConfidence(maxConfidence, len(ordered))
			est.Method = MethodExact
			est.PrimarySource = r.SourceID
			return est
		}
	}

	// 2. Fold everything else into one interval.
	lower := WindowStart
	upper := time.Now().Year()
	contributed := 0
	sawRange := false
	sawBound := false

	for _, r := range ordered {
		switch r.Kind {
		case KindPresence:
			// Existed by Year: cannot have been built later.
			if r.Year < upper {
				upper = r.Year
			}
			contributed++
			sawBound = true
		case KindAbsence:
			// Not yet there before Year: cannot have been built earlier.
			if r.Year > lower {
				lower = r.Year
			}
			contributed++
			sawBound = true
		case KindRange:
			if r.YearFrom > lower {
				lower = r.YearFrom
			}
			if r.YearTo < upper {
				upper = r.YearTo
			}
			contributed++
			sawRange = true
		case KindExact:
			// Low confidence: a soft ±10y window around the claim.
			if r.Year-looseExactHalfWidth > lower {
				lower = r.Year - looseExactHalfWidth
			}
			if r.Year+looseExactHalfWidth < upper {
				upper = r.Year + looseExactHalfWidth
			}
			contributed++
		}
	}

	// 3. No genuine temporal evidence: report unknown, never a
	// fabricated year.
	if contributed == 0 {
		est.Method = MethodUnknown
		est.Confidence = 0
		return est
	}

	// 4. Contradictory bounds collapse to the midpoint ±20y.
	repaired := false
	if lower > upper {
		mid := (lower + upper) / 2
		lower = mid - repairHalfWidth
		upper = mid + repairHalfWidth
		repaired = true
	}

	mid := (lower + upper) / 2
	est.StartYear = &mid
	est.StartLower = lower
	est.StartUpper = upper
	est.Confidence = clampConfidence(widthConfidence(upper-lower), len(ordered))

	switch {
	case repaired:
		est.Method = MethodEstimated
	case sawRange:
		est.Method = MethodRange
	case sawBound:
		est.Method = MethodBounded
	default:
		est.Method = MethodEstimated
	}

	return est
}

// widthConfidence maps bound width to base confidence.
func widthConfidence(width int) float64 {
	switch {
	case width == 0:
		return 0.95
	case width <= 10:
		return 0.85
	case width <= 30:
		return 0.70
	case width <= 50:
		return 0.50
	case width <= 100:
		return 0.35
	default:
		return 0.20
	}
}

// clampConfidence applies the evidence-count boost and the global cap.
func clampConfidence(base float64, count int) float64 {
	boost := countBoost * float64(count-1)
	if boost > maxCountBoost {
		boost = maxCountBoost
	}
	c := base + boost
	if c > maxConfidence {
		c = maxConfidence
	}
	return c
}

// foldEndYear picks the end-year claim from the highest-priority record
// carrying one. The ordered slice is already priority-sorted.
func foldEndYear(ordered []Record) *int {
	for _, r := range ordered {
		if r.EndYear != nil {
			y := *r.EndYear
			return &y
		}
	}
	return nil
}
