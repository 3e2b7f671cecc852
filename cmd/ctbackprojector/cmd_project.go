package main

import (
	"fmt"
	"math"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"ctbackprojector/pkg/forward"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/projectionio"
)

// pgmLevels is the gray depth of synthesized PGM stacks.
const pgmLevels = 255

type projectOptions struct {
	*rootOptions
	phantom string
	size    float64
	pixels  int
}

func newProjectCmd(root *rootOptions) *cobra.Command {
	opts := &projectOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "project <output.{pgm,dat}>",
		Short: "Synthesize the projections of an analytic phantom",
		Long: `project fills the configured volume with a phantom of unit absorption and
records one projection per source position of the configured scan. The output
can be fed straight back to "reconstruct".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(cmd, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.phantom, "phantom", "sphere", "phantom shape: sphere or cube")
	f.Float64Var(&opts.size, "radius", 0, "sphere radius or cube half side (default: a quarter of the volume)")
	f.IntVar(&opts.pixels, "pixels", 0, "detector side in pixels (default: configuration, then 64)")
	return cmd
}

func runProject(cmd *cobra.Command, opts *projectOptions, output string) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := cfg.ScanParams()
	if err != nil {
		return err
	}
	scan, err := geometry.NewScanConfig(params)
	if err != nil {
		return err
	}

	side := opts.pixels
	if side <= 0 {
		side = params.DetectorPixels
	}
	if side <= 0 {
		side = 64
	}
	if err := scan.CheckDetector(side); err != nil {
		return err
	}

	vol := scan.NewVolume()
	size := opts.size
	if size <= 0 {
		ext := vol.Extent()
		size = math.Min(ext[0], math.Min(ext[1], ext[2])) / 4
	}
	ph, err := forward.NewPhantom(opts.phantom, size)
	if err != nil {
		return err
	}
	forward.Fill(vol, ph)

	bar := pb.New(scan.NumProjections())
	bar.SetWriter(cmd.ErrOrStderr())
	bar.Start()
	projs, err := forward.NewProjector(scan, cfg.Cores()).ProjectAll(cmd.Context(), vol, side, func(done, _ int, _ string) {
		bar.SetCurrent(int64(done))
	})
	bar.Finish()
	if err != nil {
		return err
	}

	h := projectionio.HeaderFor(projs)
	if projectionio.Format(output) == ".pgm" {
		h = projectionio.Quantize(h, projs, pgmLevels)
	}
	if err := projectionio.Create(output, h, projs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d projections of %v (%dx%d pixels) to %s\n", len(projs), ph, side, side, output)
	return nil
}
