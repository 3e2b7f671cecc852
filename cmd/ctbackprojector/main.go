// Command ctbackprojector reconstructs a voxel volume from cone-beam X-ray
// projections by Siddon backprojection.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ctbackprojector/pkg/config"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ctbackprojector",
		Short: "Cone-beam CT backprojection with Siddon's ray tracing",
		Long: `ctbackprojector reconstructs a 3D absorption volume from a stack of square
X-ray projections taken on a circular source trajectory.

Projections are read from plain PGM (P2) or binary DAT files and the volume is
written as NRRD, raw doubles or legacy VTK.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "ctbackprojector.yaml", "path to the YAML configuration")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every projection")

	root.AddCommand(
		newReconstructCmd(opts),
		newProjectCmd(opts),
		newInspectCmd(opts),
		newConfigCmd(),
	)
	return root
}

// loadConfig reads the configuration and applies the persistent flags.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose = o.verbose
	}
	return cfg, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
