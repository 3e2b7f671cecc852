package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ctbackprojector/pkg/backprojection"
	"ctbackprojector/pkg/config"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/projectionio"
	"ctbackprojector/pkg/reconstruction"
	"ctbackprojector/pkg/visualization"
	"ctbackprojector/pkg/volumeio"
)

// errIncomplete is returned when the input ends early and partial output
// was not allowed.
var errIncomplete = errors.New("input ended before every projection was read")

type reconstructOptions struct {
	*rootOptions
	cores         int
	allowPartial  bool
	extractSlices bool
	slicesDir     string
	sliceAxis     string
	window        []float64
	metricsAddr   string
}

func newReconstructCmd(root *rootOptions) *cobra.Command {
	opts := &reconstructOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "reconstruct <input.{pgm,dat}> <output.{nrrd,raw,vtk}>",
		Short: "Backproject a projection stack into a volume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconstruct(cmd, opts, args[0], args[1])
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.cores, "cores", 0, "CPU cores to use (default: configuration, then all)")
	f.BoolVar(&opts.allowPartial, "allow-partial", false, "write the volume even if the input ends early")
	f.BoolVar(&opts.extractSlices, "extract-slices", false, "save slices of the volume across the configured slice axis")
	f.StringVar(&opts.slicesDir, "slices-dir", "", "directory for extracted slices (default: configuration)")
	f.StringVar(&opts.sliceAxis, "slice-axis", "", "axis the extracted slices are taken across: x, y or z")
	f.Float64SliceVar(&opts.window, "window", nil, "coefficient range low,high mapped to black and white in slices (default: volume range)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func runReconstruct(cmd *cobra.Command, opts *reconstructOptions, input, output string) error {
	if samePath(input, output) {
		return fmt.Errorf("output file can't be the same as the input file")
	}
	if !volumeio.Supported(output) {
		return fmt.Errorf("%w: %q (supported: %v)", volumeio.ErrUnsupportedFormat, filepath.Ext(output), volumeio.Formats)
	}
	if w := opts.window; w != nil && (len(w) != 2 || !(w[1] > w[0])) {
		return fmt.Errorf("--window needs low,high with high > low, got %v", w)
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	applyReconstructFlags(cmd, opts, cfg)

	params, err := cfg.ScanParams()
	if err != nil {
		return err
	}
	scan, err := geometry.NewScanConfig(params)
	if err != nil {
		return err
	}

	src, err := projectionio.Open(input)
	if err != nil {
		return err
	}
	defer src.Close()

	logger := newLogger(cmd.ErrOrStderr(), cfg.Output.Verbose)

	reg := prometheus.NewRegistry()
	metrics := backprojection.NewMetrics(reg)
	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, reg, logger)
		defer stop()
	}

	bar := pb.New(scan.NumProjections())
	bar.SetWriter(cmd.ErrOrStderr())
	bar.Start()

	rec, err := reconstruction.NewReconstructor(&reconstruction.Params{
		Scan:              scan,
		Source:            src,
		NumCores:          cfg.Cores(),
		ProjectionWorkers: cfg.Processing.ProjectionWorkers,
		RowWorkers:        cfg.Processing.RowWorkers,
		Logger:            logger,
		Metrics:           metrics,
		Progress: func(completed, _ int, _ string) {
			bar.SetCurrent(int64(completed))
		},
	})
	if err != nil {
		bar.Finish()
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	res, err := rec.Process(ctx)
	bar.Finish()
	if err != nil {
		return err
	}

	if !res.Complete && !cfg.Processing.AllowPartial {
		return fmt.Errorf("%w: got %d of %d; rerun with --allow-partial to write the volume anyway",
			errIncomplete, res.Projections, res.Expected)
	}

	meta := volumeio.Meta{RunID: res.RunID, Projections: res.Projections, Expected: res.Expected}
	if err := volumeio.Write(output, res.Volume, meta); err != nil {
		return err
	}
	logger.Info("volume written", slog.String("path", output), slog.Any("voxels", res.Volume.Counts))

	if cfg.Output.ExtractSlices {
		axis := cfg.Output.SliceAxis
		viewer := visualization.NewViewer(res.Volume)
		if opts.window != nil {
			if err := viewer.SetWindow(opts.window[0], opts.window[1]); err != nil {
				return err
			}
		}
		n, err := viewer.SaveSliceSequence(axis, cfg.Output.SlicesDir, "png")
		if err != nil {
			return fmt.Errorf("failed to save slices: %w", err)
		}
		logger.Info("slices saved", slog.String("axis", axis), slog.String("dir", cfg.Output.SlicesDir), slog.Int("count", n))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reconstruction %s finished in %.2f seconds\n", res.RunID, res.Duration.Seconds())
	fmt.Fprintf(out, "Projections:  %d of %d (%dx%d pixels)\n", res.Projections, res.Expected, res.Side, res.Side)
	fmt.Fprintf(out, "Rays:         %d traced, %d missed\n", res.Stats.Rays, res.Stats.Missed)
	fmt.Fprintf(out, "Volume:       %d x %d x %d voxels -> %s\n", res.Volume.Counts[0], res.Volume.Counts[1], res.Volume.Counts[2], output)
	fmt.Fprintf(out, "Coefficients: min %.6g, max %.6g, mean %.6g, stddev %.6g\n",
		res.Summary.Min, res.Summary.Max, res.Summary.Mean, res.Summary.StdDev)
	return nil
}

func applyReconstructFlags(cmd *cobra.Command, opts *reconstructOptions, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("cores") {
		cfg.Processing.NumCores = opts.cores
	}
	if f.Changed("allow-partial") {
		cfg.Processing.AllowPartial = opts.allowPartial
	}
	if f.Changed("extract-slices") {
		cfg.Output.ExtractSlices = opts.extractSlices
	}
	if f.Changed("slices-dir") {
		cfg.Output.SlicesDir = opts.slicesDir
	}
	if f.Changed("slice-axis") {
		cfg.Output.SliceAxis = opts.sliceAxis
	}
}

// serveMetrics exposes reg over HTTP until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
