// Package config defines the merge-run configuration: which sources
// participate, the matching thresholds, the replacement and road
// date-inference policy constants, and the output paths. Policy values
// like the era rules and the road date offset are undocumented domain
// heuristics, so they are configuration, not code.
package config

import (
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/features"
)

// Config is the full merge-run configuration.
type Config struct {
	Sources []Source `yaml:"sources"`

	Matching    Matching      `yaml:"matching"`
	Replacement Replacement   `yaml:"replacement"`
	RoadDates   RoadInference `yaml:"road_dates"`

	Output Output `yaml:"output"`

	// EvidenceDB is the sqlite file backing the evidence store.
	// Empty means an in-memory store for this run only.
	EvidenceDB string `yaml:"evidence_db"`
}

// Source describes one normalized input collection.
type Source struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
	Kind string `yaml:"kind"` // "building" or "road"

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	// Priority orders sources; lower number = higher authority.
	Priority int `yaml:"priority"`

	// DatePriority orders date claims independently of geometry
	// authority. Defaults to Priority when omitted.
	DatePriority int `yaml:"date_priority"`

	// MatchBy lists match strategies in order; defaults to
	// ["registry_ref", "geometry"].
	MatchBy []string `yaml:"match_by"`

	// Authoritative marks the source whose geometry wins on a match.
	Authoritative bool `yaml:"authoritative"`

	// Current marks the authoritative modern source used to partition
	// roads into current vs removed.
	Current bool `yaml:"current"`

	// MapYear is the survey year of a scanned-map source. Zero means
	// unknown; the road date cascade then tries to parse a year from
	// the source id.
	MapYear int `yaml:"map_year"`
}

// IsEnabled reports whether the source participates in the run.
func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveDatePriority returns DatePriority, falling back to Priority.
func (s *Source) EffectiveDatePriority() int {
	if s.DatePriority != 0 {
		return s.DatePriority
	}
	return s.Priority
}

// Match strategy names accepted in Source.MatchBy.
const (
	MatchByRegistryRef = "registry_ref"
	MatchByGeometry    = "geometry"
)

// Matching holds the spatial matcher thresholds.
type Matching struct {
	// BufferDistance pads line geometry for index lookup and overlap
	// scoring, in the dataset's length units.
	BufferDistance float64 `yaml:"buffer_distance"`

	// OverlapThreshold is the minimum score for a match.
	OverlapThreshold float64 `yaml:"overlap_threshold"`

	// HausdorffThreshold bounds the proximity term of line scoring.
	HausdorffThreshold float64 `yaml:"hausdorff_threshold"`

	// Line score weights; must sum to 1.
	OverlapWeight   float64 `yaml:"overlap_weight"`
	ProximityWeight float64 `yaml:"proximity_weight"`
	NameWeight      float64 `yaml:"name_weight"`

	// SampleInterval is the point spacing for line resampling.
	SampleInterval float64 `yaml:"sample_interval"`
}

// EraRule maps an era to the minimum evidence strength a replacement
// claim needs. A rule applies to entities dated strictly before its
// Before year; the rules are evaluated in ascending Before order.
type EraRule struct {
	Before      int               `yaml:"before"`
	MinEvidence features.Strength `yaml:"min_evidence"`
}

// Replacement holds building replacement-detection policy.
type Replacement struct {
	EraRules []EraRule `yaml:"era_rules"`

	// EndYearOffset is added to the replacing building's start year
	// when inferring the demolished building's end year.
	EndYearOffset int `yaml:"end_year_offset"`
}

// MinEvidenceFor returns the minimum evidence strength required to
// accept a replacement for an entity with the given start year.
func (r *Replacement) MinEvidenceFor(year int) features.Strength {
	for _, rule := range r.EraRules {
		if year < rule.Before {
			return rule.MinEvidence
		}
	}
	return features.StrengthLow
}

// RoadInference holds the road date-inference cascade parameters.
type RoadInference struct {
	// BuildingBuffer is the search distance around a road for dated
	// donor buildings.
	BuildingBuffer float64 `yaml:"building_buffer"`

	// DonorStrategy aggregates donor building years: "earliest" or
	// "median".
	DonorStrategy string `yaml:"donor_strategy"`

	// OffsetYears is subtracted from the donor year ("road precedes
	// houses" heuristic). A pointer so an explicit zero survives
	// defaulting.
	OffsetYears *int `yaml:"offset_years"`

	// FallbackYear is the hard last-resort date.
	FallbackYear int `yaml:"fallback_year"`

	// RemovedEndYear is assigned to removed roads lacking an explicit
	// end year.
	RemovedEndYear int `yaml:"removed_end_year"`
}

// Donor aggregation strategies.
const (
	DonorEarliest = "earliest"
	DonorMedian   = "median"
)

// Output holds the artifact paths.
type Output struct {
	Merged  string `yaml:"merged"`
	Summary string `yaml:"summary"`
	Quality string `yaml:"quality"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("", "cannot read config file", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError("", "cannot parse config file", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values with the engine defaults.
func (c *Config) ApplyDefaults() {
	if c.Matching.BufferDistance == 0 {
		c.Matching.BufferDistance = 10
	}
	if c.Matching.OverlapThreshold == 0 {
		c.Matching.OverlapThreshold = 0.5
	}
	if c.Matching.HausdorffThreshold == 0 {
		c.Matching.HausdorffThreshold = 25
	}
	if c.Matching.OverlapWeight == 0 && c.Matching.ProximityWeight == 0 && c.Matching.NameWeight == 0 {
		c.Matching.OverlapWeight = 0.4
		c.Matching.ProximityWeight = 0.3
		c.Matching.NameWeight = 0.3
	}
	if c.Matching.SampleInterval == 0 {
		c.Matching.SampleInterval = 5
	}

	if len(c.Replacement.EraRules) == 0 {
		c.Replacement.EraRules = []EraRule{
			{Before: 1900, MinEvidence: features.StrengthHigh},
			{Before: 1950, MinEvidence: features.StrengthMedium},
		}
	}
	sort.Slice(c.Replacement.EraRules, func(i, j int) bool {
		return c.Replacement.EraRules[i].Before < c.Replacement.EraRules[j].Before
	})

	if c.RoadDates.BuildingBuffer == 0 {
		c.RoadDates.BuildingBuffer = 50
	}
	if c.RoadDates.DonorStrategy == "" {
		c.RoadDates.DonorStrategy = DonorEarliest
	}
	if c.RoadDates.OffsetYears == nil {
		offset := 2
		c.RoadDates.OffsetYears = &offset
	}
	if c.RoadDates.FallbackYear == 0 {
		c.RoadDates.FallbackYear = 1900
	}
	if c.RoadDates.RemovedEndYear == 0 {
		c.RoadDates.RemovedEndYear = 1950
	}

	for i := range c.Sources {
		if len(c.Sources[i].MatchBy) == 0 {
			c.Sources[i].MatchBy = []string{MatchByRegistryRef, MatchByGeometry}
		}
	}
}

// Validate checks the required fields. Every failure is a ConfigError,
// which aborts the run before any processing.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.NewConfigError("sources", "at least one source is required", nil)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.ID == "" {
			return errors.NewConfigError("sources.id", "source id is required", nil)
		}
		if seen[s.ID] {
			return errors.NewConfigError("sources.id", "duplicate source id "+s.ID, nil)
		}
		seen[s.ID] = true
		if s.Path == "" {
			return errors.NewConfigError("sources.path", "source "+s.ID+" has no path", nil)
		}
		if s.Kind != string(features.KindBuilding) && s.Kind != string(features.KindRoad) {
			return errors.NewConfigError("sources.kind", "source "+s.ID+" kind must be building or road", nil)
		}
		if s.Priority <= 0 {
			return errors.NewConfigError("sources.priority", "source "+s.ID+" needs a positive priority", nil)
		}
		for _, m := range s.MatchBy {
			if m != MatchByRegistryRef && m != MatchByGeometry {
				return errors.NewConfigError("sources.match_by", "unknown match strategy "+m, nil)
			}
		}
	}

	if c.Output.Merged == "" {
		return errors.NewConfigError("output.merged", "merged output path is required", nil)
	}

	for _, rule := range c.Replacement.EraRules {
		if !rule.MinEvidence.Valid() {
			return errors.NewConfigError("replacement.era_rules", "invalid evidence strength", nil)
		}
	}
	if s := c.RoadDates.DonorStrategy; s != DonorEarliest && s != DonorMedian {
		return errors.NewConfigError("road_dates.donor_strategy", "must be earliest or median", nil)
	}

	return nil
}

// SourcesByPriority returns the enabled sources of one kind sorted by
// ascending priority number (highest authority first), ties broken by
// id for a deterministic merge order.
func (c *Config) SourcesByPriority(kind features.Kind) []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.IsEnabled() && s.Kind == string(kind) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
