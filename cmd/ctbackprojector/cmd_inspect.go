package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/projectionio"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <input.{pgm,dat}>",
		Short: "List the projections of a stack and the source position each maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
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
			return inspect(cmd.OutOrStdout(), scan, args[0])
		},
	}
}

func inspect(out io.Writer, scan *geometry.ScanConfig, path string) error {
	src, err := projectionio.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	h := src.Header()
	fmt.Fprintf(out, "%s: %d projections of %dx%d pixels, values in [%g, %g]\n", path, h.Count, h.Side, h.Side, h.MinVal, h.MaxVal)
	fmt.Fprintf(out, "scan expects %d projections from %g° in %g° steps\n\n", scan.NumProjections(), scan.AngleOf(0), scan.Params().StepAngle)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tANGLE\tINDEX\tMIN\tMAX")
	for i := 0; ; i++ {
		p, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			tw.Flush()
			return err
		}

		index := "-"
		if idx, err := scan.IndexForAngle(p.Angle); err == nil {
			index = fmt.Sprint(idx)
		}
		fmt.Fprintf(tw, "%d\t%g\t%s\t%g\t%g\n", i, p.Angle, index, floats.Min(p.Pixels), floats.Max(p.Pixels))
	}
	return tw.Flush()
}
