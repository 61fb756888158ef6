package merge

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/spatial"
)

// loaded holds one run's input features plus per-source diagnostics.
type loaded struct {
	// feats holds every loadable feature, source-priority order first,
	// feature id order within a source: the deterministic merge order.
	feats []*features.Feature

	stats   []features.LoadStats
	skipped []string
}

// loadSources reads every enabled source of one kind in ascending
// priority order. Unreadable sources are skipped with a diagnostic;
// zero loadable sources is fatal.
func loadSources(cfg *config.Config, kind features.Kind, log zerolog.Logger) (*loaded, error) {
	out := &loaded{}

	for _, src := range cfg.SourcesByPriority(kind) {
		feats, stats, err := features.Load(src.ID, src.Path)
		if err != nil {
			log.Warn().
				Str("source", src.ID).
				Str("path", src.Path).
				Err(err).
				Msg("Skipping unavailable source")
			out.skipped = append(out.skipped, src.ID)
			continue
		}

		sort.Slice(feats, func(i, j int) bool { return feats[i].ID() < feats[j].ID() })
		out.feats = append(out.feats, feats...)
		out.stats = append(out.stats, stats)
	}

	if len(out.stats) == 0 {
		return nil, errors.ErrNoSources
	}
	return out, nil
}

// priorityFuncs derives the matcher and date ranking functions from
// the configured sources. Unknown sources rank last.
func priorityFuncs(cfg *config.Config) (priority, datePriority func(string) int) {
	prio := make(map[string]int, len(cfg.Sources))
	datePrio := make(map[string]int, len(cfg.Sources))
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		prio[s.ID] = s.Priority
		datePrio[s.ID] = s.EffectiveDatePriority()
	}

	last := len(cfg.Sources) + 1000
	priority = func(id string) int {
		if p, ok := prio[id]; ok {
			return p
		}
		return last
	}
	datePriority = func(id string) int {
		if p, ok := datePrio[id]; ok {
			return p
		}
		return last
	}
	return priority, datePriority
}

// matchStrategies derives the per-source strategy gate from each
// source's match_by list. Sources not in the configuration (synthetic
// wrappers) participate in every strategy.
func matchStrategies(cfg *config.Config) spatial.Strategies {
	ref := make(map[string]bool, len(cfg.Sources))
	geom := make(map[string]bool, len(cfg.Sources))
	known := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		known[s.ID] = true
		for _, strategy := range s.MatchBy {
			switch strategy {
			case config.MatchByRegistryRef:
				ref[s.ID] = true
			case config.MatchByGeometry:
				geom[s.ID] = true
			}
		}
	}

	return func(sourceID string) (bool, bool) {
		if !known[sourceID] {
			return true, true
		}
		return ref[sourceID], geom[sourceID]
	}
}

// sourceFlags collects the per-source booleans the fold rules need.
func sourceFlags(cfg *config.Config) (authoritative, current map[string]bool) {
	authoritative = make(map[string]bool)
	current = make(map[string]bool)
	for i := range cfg.Sources {
		if cfg.Sources[i].Authoritative {
			authoritative[cfg.Sources[i].ID] = true
		}
		if cfg.Sources[i].Current {
			current[cfg.Sources[i].ID] = true
		}
	}
	return authoritative, current
}
