// Package chronomap reconciles building and road records about one
// geographic area from many disagreeing sources into a single
// temporally-annotated dataset: each merged entity carries a
// best-estimate existence interval, a confidence score, and full
// source provenance.
package chronomap

import (
	"context"
	"fmt"

	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/merge"
	"github.com/chronomap/chronomap/pkg/quality"
)

// Chronomap runs the merge engine over a configured set of sources.
type Chronomap interface {
	// Run executes the full merge and writes the configured outputs.
	Run(ctx context.Context) (*RunResult, error)

	// Config returns the loaded run configuration.
	Config() *config.Config

	// Store exposes the evidence store for downstream readers.
	Store() evidence.Store

	// Close releases the evidence store.
	Close() error
}

// RunResult bundles the outputs of one full run.
type RunResult struct {
	Buildings *merge.Result
	Roads     *merge.Result

	BuildingQuality *quality.Report
	RoadQuality     *quality.Report
}

// chronomap is the internal implementation of the Chronomap interface.
type chronomap struct {
	settings *settings
	cfg      *config.Config
	store    evidence.Store
	ownStore bool
}

// New creates a Chronomap instance with the given options.
func New(opts ...Option) (Chronomap, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	c := &chronomap{settings: s}

	if s.runConfig != nil {
		// An injected config gets the same treatment as a loaded file:
		// a bad one must fail here, not as a late write error.
		s.runConfig.ApplyDefaults()
		if err := s.runConfig.Validate(); err != nil {
			return nil, err
		}
		c.cfg = s.runConfig
	} else {
		cfg, err := config.Load(s.configPath)
		if err != nil {
			return nil, err
		}
		c.cfg = cfg
	}

	switch {
	case s.store != nil:
		c.store = s.store
	case c.cfg.EvidenceDB != "":
		store, err := evidence.NewSQLiteStore(c.cfg.EvidenceDB)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.ownStore = true
	default:
		c.store = evidence.NewMemoryStore()
		c.ownStore = true
	}

	return c, nil
}

// Config returns the loaded run configuration.
func (c *chronomap) Config() *config.Config { return c.cfg }

// Store exposes the evidence store.
func (c *chronomap) Store() evidence.Store { return c.store }

// Close releases the evidence store if this instance opened it.
func (c *chronomap) Close() error {
	if c.ownStore {
		return c.store.Close()
	}
	return nil
}

// Run executes the building merge, the road merge (fed by the dated
// buildings), quality audits, and the output writes. Output files are
// only written after every merge stage succeeded, so a failed run
// leaves no partial primary output.
func (c *chronomap) Run(ctx context.Context) (*RunResult, error) {
	log := c.settings.logger
	out := &RunResult{}

	hasBuildings := len(c.cfg.SourcesByPriority(features.KindBuilding)) > 0
	hasRoads := len(c.cfg.SourcesByPriority(features.KindRoad)) > 0
	if !hasBuildings && !hasRoads {
		return nil, errors.ErrNoSources
	}

	var donors []*merge.Entity
	if hasBuildings {
		result, err := merge.NewBuildingMerger(c.cfg, c.store, log).Run(ctx)
		if err != nil {
			return nil, err
		}
		out.Buildings = result
		out.BuildingQuality = quality.Build(result)
		donors = result.Entities
	}

	if hasRoads {
		result, err := merge.NewRoadMerger(c.cfg, c.store, log, donors).Run(ctx)
		if err != nil {
			return nil, err
		}
		out.Roads = result
		out.RoadQuality = quality.Build(result)
	}

	if err := c.write(out); err != nil {
		return nil, err
	}

	log.Info().Str("merged", c.cfg.Output.Merged).Msg("Run complete")
	return out, nil
}

// write emits the merged collection and the companion reports.
func (c *chronomap) write(out *RunResult) error {
	var entities []*merge.Entity
	if out.Buildings != nil {
		entities = append(entities, out.Buildings.Entities...)
	}
	if out.Roads != nil {
		entities = append(entities, out.Roads.Entities...)
	}

	if err := merge.WriteGeoJSON(c.cfg.Output.Merged, entities); err != nil {
		return err
	}

	if c.cfg.Output.Summary != "" {
		summary := map[string]any{}
		if out.Buildings != nil {
			summary["buildings"] = out.Buildings.Summary
		}
		if out.Roads != nil {
			summary["roads"] = out.Roads.Summary
		}
		if err := merge.WriteJSON(c.cfg.Output.Summary, summary); err != nil {
			return err
		}
	}

	if c.cfg.Output.Quality != "" {
		reports := map[string]any{}
		if out.BuildingQuality != nil {
			reports["buildings"] = out.BuildingQuality
		}
		if out.RoadQuality != nil {
			reports["roads"] = out.RoadQuality
		}
		if err := merge.WriteJSON(c.cfg.Output.Quality, reports); err != nil {
			return err
		}
	}

	// The human-readable audit always goes to the log, even when no
	// quality path is configured.
	if out.BuildingQuality != nil {
		c.settings.logger.Info().Msg(out.BuildingQuality.String())
	}
	if out.RoadQuality != nil {
		c.settings.logger.Info().Msg(out.RoadQuality.String())
	}

	return nil
}
