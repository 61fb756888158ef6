package merge

import (
	"context"
	"regexp"
	"sort"
	"strconv"

	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/spatial"
)

// sourceYearPattern extracts a map-year code embedded in a source id,
// e.g. "ml-1904" or "maps_1886_east".
var sourceYearPattern = regexp.MustCompile(`(1[6-9]\d{2}|20\d{2})`)

// RoadMerger folds road sources into merged entities, infers missing
// dates, and classifies how each road changed.
type RoadMerger struct {
	cfg   *config.Config
	store evidence.Store
	log   zerolog.Logger

	// donors are dated building entities feeding cascade step (b).
	donors []*Entity
}

// NewRoadMerger wires a road orchestrator. Donor buildings are
// optional; without them the cascade skips the proximity step.
func NewRoadMerger(cfg *config.Config, store evidence.Store, log zerolog.Logger, donors []*Entity) *RoadMerger {
	return &RoadMerger{cfg: cfg, store: store, log: log, donors: donors}
}

// Run executes the road merge: load, match, fold, infer dates,
// classify changes, partition current vs removed.
func (m *RoadMerger) Run(ctx context.Context) (*Result, error) {
	in, err := loadSources(m.cfg, features.KindRoad, m.log)
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
		Summary:   newSummary(features.KindRoad),
	}
	result.Summary.SkippedSources = in.skipped
	result.Summary.SkippedGeometry = index.Skipped
	for _, st := range in.stats {
		result.Summary.SourceCounts[st.SourceID] = st.Loaded
	}

	byID := make(map[string]*features.Feature, len(in.feats))
	for _, f := range in.feats {
		byID[f.ID()] = f
	}

	for _, f := range in.feats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.Claimed(f.ID()) {
			continue
		}

		var members []*features.Feature
		ids := []string{f.ID()}
		for _, match := range matcher.FindMatches(f, m.cfg.Matching.OverlapThreshold) {
			if state.Claimed(match.Feature.ID()) || match.Feature.SourceID == f.SourceID {
				continue
			}
			members = append(members, match.Feature)
			ids = append(ids, match.Feature.ID())
		}
		if !state.Claim(ids...) {
			continue
		}

		e := foldEntity(features.KindRoad, f, members, rules)
		m.classifyChange(e, byID, current)
		result.Entities = append(result.Entities, e)
	}

	m.inferDates(result.Entities)

	if err := recordEvidence(m.store, m.cfg, result.Entities); err != nil {
		return nil, err
	}
	if err := attachEstimates(m.store, result.Entities, datePriority); err != nil {
		return nil, err
	}

	m.partition(result.Entities)

	result.finalize()
	m.log.Info().
		Str("run_id", result.Summary.RunID).
		Int("entities", len(result.Entities)).
		Int("current", result.Summary.CurrentCount).
		Int("removed", result.Summary.RemovedCount).
		Msg("Road merge complete")
	return result, nil
}

// classifyChange compares the entity's current-source line against its
// oldest historical member line.
func (m *RoadMerger) classifyChange(e *Entity, byID map[string]*features.Feature, current map[string]bool) {
	var currentLine, historicalLine *features.Feature
	for _, id := range e.MemberIDs {
		f := byID[id]
		if f == nil {
			continue
		}
		if current[f.SourceID] {
			if currentLine == nil {
				currentLine = f
			}
		} else if historicalLine == nil {
			historicalLine = f
		}
	}
	if currentLine == nil || historicalLine == nil {
		return
	}

	old := change.Flatten(historicalLine.Geometry)
	now := change.Flatten(currentLine.Geometry)
	if len(old) < 2 || len(now) < 2 {
		return
	}

	params := change.Params{
		SampleInterval: m.cfg.Matching.SampleInterval,
		MatchTolerance: m.cfg.Matching.BufferDistance / 2,
	}
	res := change.Classify(old, now, params)
	e.Change = res.Type
}

// inferDates runs the date-inference cascade over the merged roads.
func (m *RoadMerger) inferDates(entities []*Entity) {
	donorIndex, donorByID := m.donorIndex()

	for _, e := range entities {
		// An explicit high-evidence date is never touched.
		if e.StartYear != nil && e.Strength == features.StrengthHigh {
			continue
		}

		if e.StartYear != nil {
			// Dated with medium/low evidence: only a strictly earlier
			// co-presence or donor year may overwrite.
			year, ok := m.earlyEvidence(e, donorIndex, donorByID)
			if ok && year < *e.StartYear {
				y := year
				e.StartYear = &y
				e.DateSource = ""
				e.Strength = features.StrengthLow
			}
			continue
		}

		// Undated: full cascade, result always demoted to low.
		year := m.cascade(e, donorIndex, donorByID)
		e.StartYear = &year
		e.Strength = features.StrengthLow
	}
}

// earlyEvidence runs cascade steps (a) and (b) only.
func (m *RoadMerger) earlyEvidence(e *Entity, donorIndex *spatial.Index, donorByID map[string]*Entity) (int, bool) {
	if year, ok := m.coPresenceYear(e); ok {
		return year, true
	}
	return m.donorYear(e, donorIndex, donorByID)
}

// cascade resolves a start year for an undated road: co-presence on a
// dated map, donor buildings, a year code in the source id, then the
// hard fallback.
func (m *RoadMerger) cascade(e *Entity, donorIndex *spatial.Index, donorByID map[string]*Entity) int {
	if year, ok := m.coPresenceYear(e); ok {
		return year
	}
	if year, ok := m.donorYear(e, donorIndex, donorByID); ok {
		return year
	}
	if year, ok := sourceTagYear(e); ok {
		return year
	}
	return m.cfg.RoadDates.FallbackYear
}

// coPresenceYear returns the earliest survey year among the entity's
// dated-map member sources.
func (m *RoadMerger) coPresenceYear(e *Entity) (int, bool) {
	best := 0
	for i := range m.cfg.Sources {
		src := &m.cfg.Sources[i]
		if src.MapYear <= 0 {
			continue
		}
		if _, ok := e.MergeInfo[src.ID]; !ok {
			continue
		}
		if best == 0 || src.MapYear < best {
			best = src.MapYear
		}
	}
	return best, best > 0
}

// donorYear aggregates the start years of dated buildings within the
// configured buffer of the road, minus the road-precedes-houses offset.
func (m *RoadMerger) donorYear(e *Entity, donorIndex *spatial.Index, donorByID map[string]*Entity) (int, bool) {
	if donorIndex == nil || e.Geometry == nil {
		return 0, false
	}

	line := change.Flatten(e.Geometry)
	if len(line) < 2 {
		return 0, false
	}

	var years []int
	for _, cand := range donorIndex.Candidates(entityFeature(e)) {
		donor := donorByID[cand.LocalID]
		if donor == nil || donor.StartYear == nil || donor.Geometry == nil {
			continue
		}
		center := donor.Geometry.Bound().Center()
		if planar.DistanceFrom(line, center) > m.cfg.RoadDates.BuildingBuffer {
			continue
		}
		years = append(years, *donor.StartYear)
	}
	if len(years) == 0 {
		return 0, false
	}

	sort.Ints(years)
	year := years[0]
	if m.cfg.RoadDates.DonorStrategy == config.DonorMedian {
		year = years[len(years)/2]
	}
	return year - *m.cfg.RoadDates.OffsetYears, true
}

// donorIndex builds a one-off index over the dated donor buildings.
func (m *RoadMerger) donorIndex() (*spatial.Index, map[string]*Entity) {
	if len(m.donors) == 0 {
		return nil, nil
	}

	byID := make(map[string]*Entity, len(m.donors))
	var wrapped []*features.Feature
	for _, d := range m.donors {
		if d.StartYear == nil || d.Geometry == nil {
			continue
		}
		byID[d.ID] = d
		wrapped = append(wrapped, entityFeature(d))
	}
	if len(wrapped) == 0 {
		return nil, nil
	}
	return spatial.NewIndex(wrapped, m.cfg.RoadDates.BuildingBuffer), byID
}

// sourceTagYear parses a map-year code from any member source id.
func sourceTagYear(e *Entity) (int, bool) {
	best := 0
	for sourceID := range e.MergeInfo {
		match := sourceYearPattern.FindString(sourceID)
		if match == "" {
			continue
		}
		year, err := strconv.Atoi(match)
		if err != nil {
			continue
		}
		if best == 0 || year < best {
			best = year
		}
	}
	return best, best > 0
}

// partition labels roads current vs removed and assigns removed roads
// an inferred end year when no explicit one exists.
func (m *RoadMerger) partition(entities []*Entity) {
	for _, e := range entities {
		if e.Current {
			if e.Change == "" && len(e.SrcAll) == 1 {
				e.Change = ChangeNew
			}
			continue
		}

		if e.Change == "" {
			e.Change = ChangeRemoved
		}
		if e.EndYear == nil {
			year := m.cfg.RoadDates.RemovedEndYear
			e.EndYear = &year
		}
	}
}
