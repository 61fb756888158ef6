package merge

import (
	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/chronomap/chronomap/pkg/change"
	"github.com/chronomap/chronomap/pkg/features"
)

// Summary is the numeric report accompanying a merge run.
type Summary struct {
	RunID string        `json:"run_id"`
	Kind  features.Kind `json:"kind"`

	StartedAt  utc.Time `json:"started_at"`
	FinishedAt utc.Time `json:"finished_at"`

	// SourceCounts maps source id to features loaded from it.
	SourceCounts map[string]int `json:"source_counts"`

	// SkippedSources lists sources that could not be read.
	SkippedSources []string `json:"skipped_sources,omitempty"`

	// SkippedGeometry counts features excluded for invalid geometry.
	SkippedGeometry int `json:"skipped_geometry"`

	OutputCount      int `json:"output_count"`
	MultiSourceCount int `json:"multi_source_count"`

	DatedCount       int `json:"dated_count"`
	EstimatedCount   int `json:"estimated_count"`
	UnknownDateCount int `json:"unknown_date_count"`

	// Building statistics.
	ReplacedCount    int `json:"replaced_count,omitempty"`
	InferredEndYears int `json:"inferred_end_years,omitempty"`
	ExplicitEndYears int `json:"explicit_end_years,omitempty"`

	// Road statistics.
	CurrentCount int                 `json:"current_count,omitempty"`
	RemovedCount int                 `json:"removed_count,omitempty"`
	ChangeCounts map[change.Type]int `json:"change_counts,omitempty"`
}

// Result is the full output of one orchestrator run.
type Result struct {
	Entities     []*Entity
	Replacements []ReplacementLink
	LoadStats    []features.LoadStats
	Summary      Summary
}

func newSummary(kind features.Kind) Summary {
	return Summary{
		RunID:        uuid.NewString(),
		Kind:         kind,
		StartedAt:    utc.Now(),
		SourceCounts: make(map[string]int),
	}
}

// finalize derives the aggregate counts from the entity set.
func (r *Result) finalize() {
	s := &r.Summary
	s.FinishedAt = utc.Now()
	s.OutputCount = len(r.Entities)

	for _, e := range r.Entities {
		if len(e.SrcAll) > 1 {
			s.MultiSourceCount++
		}
		switch {
		case e.StartYear != nil && e.DateSource != "":
			s.DatedCount++
		case e.StartYear != nil:
			s.EstimatedCount++
		default:
			s.UnknownDateCount++
		}
		if e.ReplacedBy != nil {
			s.ReplacedCount++
			if e.ReplacedBy.Inferred {
				s.InferredEndYears++
			} else {
				s.ExplicitEndYears++
			}
		}
		if e.Kind == features.KindRoad {
			if e.Current {
				s.CurrentCount++
			} else {
				s.RemovedCount++
			}
			if e.Change != "" {
				if s.ChangeCounts == nil {
					s.ChangeCounts = make(map[change.Type]int)
				}
				s.ChangeCounts[e.Change]++
			}
		}
	}
}
