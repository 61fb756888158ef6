package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the chronomap CLI with the given arguments. This is the
// main entry point called from main.go.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all
// subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "chronomap",
		Short:   "Historical map merge engine",
		Version: a.version,
		Long: `Chronomap reconciles building and road records about one geographic
area from many disagreeing sources into a single temporally-annotated
dataset, with best-estimate existence intervals, confidence scores,
and full source provenance.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.config.ConfigFile, "config", "c", a.config.ConfigFile, "merge-run configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&a.config.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&a.config.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("chronomap {{.Version}}\n")

	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	logLevel, _ := cmd.Flags().GetString("log-level")

	a.config.UpdateFromFlags(verbose, quiet, noColor, logLevel)

	logger := NewLogger(a.config)
	a.logger = &logger
	return nil
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.NewMergeCommand())
	rootCmd.AddCommand(a.NewReportCommand())
	rootCmd.AddCommand(a.NewEvidenceCommand())
	rootCmd.AddCommand(a.NewVersionCommand())
}

// ExitOnError prints an error and exits with status 1. Meant for
// top-level error handling in main.go.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
