package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronomap/chronomap"
	"github.com/chronomap/chronomap/pkg/config"
	"github.com/chronomap/chronomap/pkg/errors"
	"github.com/chronomap/chronomap/pkg/evidence"
	"github.com/chronomap/chronomap/pkg/features"
	"github.com/chronomap/chronomap/pkg/merge"
	"github.com/chronomap/chronomap/pkg/quality"
)

// NewMergeCommand runs the full merge over the configured sources.
func (a *App) NewMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge all configured sources into one dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := chronomap.New(
				chronomap.WithConfigFile(a.config.ConfigFile),
				chronomap.WithLogger(*a.logger),
			)
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			if result.Buildings != nil {
				s := result.Buildings.Summary
				fmt.Fprintf(cmd.OutOrStdout(), "buildings: %d merged, %d replaced, %d dated\n",
					s.OutputCount, s.ReplacedCount, s.DatedCount+s.EstimatedCount)
			}
			if result.Roads != nil {
				s := result.Roads.Summary
				fmt.Fprintf(cmd.OutOrStdout(), "roads: %d merged, %d current, %d removed\n",
					s.OutputCount, s.CurrentCount, s.RemovedCount)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "written: %s\n", engine.Config().Output.Merged)
			return nil
		},
	}
}

// NewReportCommand audits an existing merged output without
// re-merging.
func (a *App) NewReportCommand() *cobra.Command {
	var input string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run the quality audit over an existing merged output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				cfg, err := config.Load(a.config.ConfigFile)
				if err != nil {
					return err
				}
				input = cfg.Output.Merged
			}

			entities, err := merge.ReadGeoJSON(input)
			if err != nil {
				return err
			}

			for _, kind := range []features.Kind{features.KindBuilding, features.KindRoad} {
				result := &merge.Result{}
				result.Summary.Kind = kind
				for _, e := range entities {
					if e.Kind == kind {
						result.Entities = append(result.Entities, e)
					}
				}
				if len(result.Entities) == 0 {
					continue
				}

				report := quality.Build(result)
				if asJSON {
					data, err := json.MarshalIndent(report, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
				} else {
					fmt.Fprint(cmd.OutOrStdout(), report.String())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "merged collection to audit (default: the configured output)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	return cmd
}

// NewEvidenceCommand queries the evidence store.
func (a *App) NewEvidenceCommand() *cobra.Command {
	var (
		entityID      string
		fromYear      int
		toYear        int
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Query the evidence store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.config.ConfigFile)
			if err != nil {
				return err
			}
			if cfg.EvidenceDB == "" {
				return errors.NewConfigError("evidence_db", "no evidence store configured", nil)
			}

			store, err := evidence.NewSQLiteStore(cfg.EvidenceDB)
			if err != nil {
				return err
			}
			defer store.Close()

			var records []evidence.Record
			switch {
			case entityID != "":
				records, err = store.ByEntity(entityID)
			case fromYear != 0 || toYear != 0:
				records, err = store.ByYearRange(fromYear, toYear)
			default:
				records, err = store.ByConfidenceFloor(minConfidence)
			}
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "query by entity id")
	cmd.Flags().IntVar(&fromYear, "from", 0, "query records touching years from")
	cmd.Flags().IntVar(&toYear, "to", 0, "query records touching years to")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "query by confidence floor")
	return cmd
}

// NewVersionCommand prints detailed version information.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "chronomap %s (commit %s, built %s)\n",
				a.version, a.commit, a.date)
			return nil
		},
	}
}
