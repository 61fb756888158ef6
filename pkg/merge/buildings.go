package merge

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/spatial"
)

// Confidence assigned to a source's explicit year claim by strength
// tier when it becomes an evidence record.
var strengthConfidence = map[features.Strength]float64{
	features.StrengthHigh:   0.9,
	features.StrengthMedium: 0.75,
	features.StrengthLow:    0.55,
}

// mapPresenceConfidence is the confidence of a presence record derived
// from a feature appearing on a dated map sheet.
const mapPresenceConfidence = 0.6

// BuildingMerger folds building sources into merged entities and
// detects replacements.
type BuildingMerger struct {
	cfg   *config.Config
	store evidence.Store
	log   zerolog.Logger
}

// NewBuildingMerger wires a building orchestrator.
func NewBuildingMerger(cfg *config.Config, store evidence.Store, log zerolog.Logger) *BuildingMerger {
	return &BuildingMerger{cfg: cfg, store: store, log: log}
}

// Run executes the building merge: load, match, fold, estimate dates,
// detect replacements.
func (m *BuildingMerger) Run(ctx context.Context) (*Result, error) {
	in, err := loadSources(m.cfg, features.KindBuilding, m.log)
	if err != nil {
		return nil, err
	}

	priority, datePriority := priorityFuncs(m.cfg)
	authoritative, current := sourceFlags(m.cfg)
	rules := foldRules{datePriority: datePriority, authoritative: authoritative, current: current}

	index := spatial.NewIndex(in.feats, m.cfg.Matching.BufferDistance)
	matcher := spatial.NewMatcher(index, m.cfg.Matching, priority, matchStrategies(m.cfg))
	state := NewMatchState()

	result := &Result{
		LoadStats: in.stats,
		Summary:   newSummary(features.KindBuilding),
	}
	result.Summary.SkippedSources = in.skipped
	result.Summary.SkippedGeometry = index.Skipped
	for _, st := range in.stats {
		result.Summary.SourceCounts[st.SourceID] = st.Loaded
	}

	for _, f := range in.feats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.Claimed(f.ID()) {
			continue
		}

		matches := m.unclaimedMatches(matcher, state, f)
		ids := []string{f.ID()}
		for _, c := range matches {
			ids = append(ids, c.ID())
		}
		if !state.Claim(ids...) {
			continue
		}

		result.Entities = append(result.Entities, foldEntity(features.KindBuilding, f, matches, rules))
	}

	if err := m.recordEvidence(result.Entities); err != nil {
		return nil, err
	}
	if err := attachEstimates(m.store, result.Entities, datePriority); err != nil {
		return nil, err
	}
	m.detectReplacements(result)

	result.finalize()
	m.log.Info().
		Str("run_id", result.Summary.RunID).
		Int("entities", len(result.Entities)).
		Int("replacements", len(result.Replacements)).
		Msg("Building merge complete")
	return result, nil
}

// unclaimedMatches returns the ranked match candidates still available
// for folding.
func (m *BuildingMerger) unclaimedMatches(matcher *spatial.Matcher, state *MatchState, f *features.Feature) []*features.Feature {
	var out []*features.Feature
	for _, match := range matcher.FindMatches(f, m.cfg.Matching.OverlapThreshold) {
		if state.Claimed(match.Feature.ID()) {
			continue
		}
		// Never fold two features of the same source into one entity;
		// a source does not disagree with itself.
		if match.Feature.SourceID == f.SourceID {
			continue
		}
		out = append(out, match.Feature)
	}
	return out
}

// recordEvidence turns each entity's source claims into evidence
// records: explicit years become exact records with strength-derived
// confidence, features on dated map sheets become presence records.
func (m *BuildingMerger) recordEvidence(entities []*Entity) error {
	return recordEvidence(m.store, m.cfg, entities)
}

func recordEvidence(store evidence.Store, cfg *config.Config, entities []*Entity) error {
	mapYears := make(map[string]int)
	for i := range cfg.Sources {
		if cfg.Sources[i].MapYear > 0 {
			mapYears[cfg.Sources[i].ID] = cfg.Sources[i].MapYear
		}
	}

	for _, e := range entities {
		for sourceID, claim := range e.MergeInfo {
			rec := evidence.Record{
				EntityID:   e.ID,
				SourceID:   sourceID,
				EndYear:    claim.EndYear,
				Confidence: strengthConfidence[claim.Strength],
			}
			switch {
			case claim.StartYear != nil:
				rec.Kind = evidence.KindExact
				rec.Year = *claim.StartYear
			case mapYears[sourceID] > 0:
				rec.Kind = evidence.KindPresence
				rec.Year = mapYears[sourceID]
				rec.Confidence = mapPresenceConfidence
			default:
				continue
			}
			if err := store.Upsert(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// attachEstimates batch-recomputes estimates and fills entity dates
// that no source claimed directly.
func attachEstimates(store evidence.Store, entities []*Entity, datePriority func(string) int) error {
	estimates, err := store.UpdateAllEstimates(evidence.PriorityFunc(datePriority))
	if err != nil {
		return err
	}

	for _, e := range entities {
		est, ok := estimates[e.ID]
		if !ok {
			continue
		}
		e.Estimate = &est
		if e.StartYear == nil && est.Method != evidence.MethodUnknown && est.StartYear != nil {
			y := *est.StartYear
			e.StartYear = &y
		}
	}
	return nil
}

// detectReplacements scans dated buildings oldest-first for overlapping
// newer buildings whose evidence strength meets the era minimum.
func (m *BuildingMerger) detectReplacements(result *Result) {
	dated := make([]*Entity, 0, len(result.Entities))
	byID := make(map[string]*Entity, len(result.Entities))
	var wrapped []*features.Feature

	for _, e := range result.Entities {
		byID[e.ID] = e
		if e.StartYear != nil {
			dated = append(dated, e)
			wrapped = append(wrapped, entityFeature(e))
		}
	}
	sort.Slice(dated, func(i, j int) bool {
		if *dated[i].StartYear != *dated[j].StartYear {
			return *dated[i].StartYear < *dated[j].StartYear
		}
		return dated[i].ID < dated[j].ID
	})

	index := spatial.NewIndex(wrapped, m.cfg.Matching.BufferDistance)
	matcher := spatial.NewMatcher(index, m.cfg.Matching, nil, nil)

	for _, old := range dated {
		minStrength := m.cfg.Replacement.MinEvidenceFor(*old.StartYear)

		for _, match := range matcher.FindMatches(entityFeature(old), m.cfg.Matching.OverlapThreshold) {
			cand := byID[match.Feature.LocalID]
			if cand == nil || cand.StartYear == nil || *cand.StartYear <= *old.StartYear {
				continue
			}
			if cand.Strength.Rank() < minStrength.Rank() {
				// Insufficient evidence for this era; geometric overlap
				// alone never marks a replacement.
				continue
			}

			link := ReplacementLink{
				OldID:    old.ID,
				NewID:    cand.ID,
				Evidence: cand.Strength,
			}
			if old.EndYearExplicit {
				link.DemolitionYear = *old.EndYear
			} else {
				year := *cand.StartYear + m.cfg.Replacement.EndYearOffset
				link.DemolitionYear = year
				link.Inferred = true
				old.EndYear = &year
			}
			old.ReplacedBy = &link
			result.Replacements = append(result.Replacements, link)
			break
		}
	}
}

// entityFeature wraps a merged entity so the spatial matcher can index
// it; the synthetic source id keeps wrapper ids distinct from inputs.
func entityFeature(e *Entity) *features.Feature {
	return &features.Feature{
		Geometry:  e.Geometry,
		SourceID:  "merged",
		LocalID:   e.ID,
		Strength:  e.Strength,
		StartYear: e.StartYear,
		Name:      e.Name,
	}
}
