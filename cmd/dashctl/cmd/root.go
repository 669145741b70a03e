package cmd

import (
	"fmt"
	"log/slog"
	"os"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbose bool
	dataDir string
}

// NewRootCmd builds the dashctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "dashctl",
		Short: "Hawaiʻi climate dashboard tools",
		Long: `Offline tools for the Hawaiʻi climate dashboard.

Examples:
  dashctl genmock --out data/mock                          # Write a complete mock data directory
  dashctl validate --data-dir data/mock                    # Check boundaries, rasters, and tables
  dashctl render --data-dir data/mock --island Maui \
    --scope divisions --dataset drought --period 2024-06   # Render one view to map.svg`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "./data", "data directory")

	root.AddCommand(newGenmockCmd(), newValidateCmd(g), newRenderCmd(g))
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globalFlags) logger() *slog.Logger {
	level := "warn"
	if g.verbose {
		level = "debug"
	}
	return sharedobs.NewLogger(level, "text")
}
