// Package reconstruction drives a complete backprojection run: it pulls
// projections from a reader, matches each one to its source position,
// schedules the backprojections and summarizes the resulting volume.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/backprojection"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/projectionio"
)

var (
	// ErrDuplicateProjection is returned when two projections resolve to
	// the same source position.
	ErrDuplicateProjection = errors.New("duplicate projection")

	// ErrTooManyProjections is returned when the input holds more
	// projections than the scan has source positions.
	ErrTooManyProjections = errors.New("more projections than source positions")

	// ErrNoProjections is returned when the input holds no projection at all.
	ErrNoProjections = errors.New("no projections in input")
)

var tracer = otel.Tracer("ctbackprojector.reconstruction")

// ProgressCallback is called after every backprojected projection.
type ProgressCallback func(completed, total int, message string)

// Params holds the reconstruction parameters.
type Params struct {
	// Scan is the acquisition geometry
	Scan *geometry.ScanConfig

	// Source yields the projections to backproject
	Source projectionio.Reader

	// NumCores bounds the total parallelism used to derive worker counts.
	// Zero means runtime.NumCPU().
	NumCores int

	// ProjectionWorkers is the number of projections processed at once.
	// Zero derives min(NumCores, number of projections).
	ProjectionWorkers int

	// RowWorkers is the number of goroutines per projection.
	// Zero derives max(1, NumCores / ProjectionWorkers).
	RowWorkers int

	// Logger receives run events. Nil means slog.Default().
	Logger *slog.Logger

	// Metrics, when set, is updated by every backprojection
	Metrics *backprojection.Metrics

	// TracerProvider overrides the global OpenTelemetry provider
	TracerProvider trace.TracerProvider

	// Progress is optional
	Progress ProgressCallback
}

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run in logs and output headers
	RunID string

	// Volume holds the accumulated absorption coefficients
	Volume *models.Volume

	// Projections is the number of projections backprojected
	Projections int

	// Expected is the number of source positions of the scan
	Expected int

	// Complete is false when the input ended before every source position
	// was seen
	Complete bool

	// Side is the detector side length shared by all projections
	Side int

	// Stats totals the ray work over all projections
	Stats backprojection.Stats

	// Duration is the wall time of the run
	Duration time.Duration

	// Summary describes the value distribution of the volume
	Summary Summary
}

// Reconstructor runs one backprojection over a projection stream.
type Reconstructor struct {
	params Params
	logger *slog.Logger
	tracer trace.Tracer

	projectionWorkers int
	rowWorkers        int
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
//
// Parameters:
//   - params: scan geometry, projection source and tuning knobs
//
// Returns:
//   - A Reconstructor ready to Process, or an error if Scan or Source is missing
func NewReconstructor(params *Params) (*Reconstructor, error) {
	if params.Scan == nil {
		return nil, fmt.Errorf("%w: no scan geometry", geometry.ErrInvalidConfig)
	}
	if params.Source == nil {
		return nil, fmt.Errorf("%w: no projection source", geometry.ErrInvalidConfig)
	}

	r := &Reconstructor{
		params: *params,
		logger: params.Logger,
		tracer: tracer,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if params.TracerProvider != nil {
		r.tracer = params.TracerProvider.Tracer("ctbackprojector.reconstruction")
	}
	r.projectionWorkers, r.rowWorkers = Workers(params.NumCores, params.ProjectionWorkers, params.RowWorkers, params.Scan.NumProjections())
	return r, nil
}

// Workers derives the projection and row worker counts. Explicit (positive)
// values are kept; zero values are derived from cores, which itself
// defaults to the number of CPUs.
func Workers(cores, projectionWorkers, rowWorkers, projections int) (int, int) {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if projectionWorkers <= 0 {
		projectionWorkers = max(1, min(cores, projections))
	}
	if rowWorkers <= 0 {
		rowWorkers = max(1, cores/projectionWorkers)
	}
	return projectionWorkers, rowWorkers
}

// Process runs the complete reconstruction pipeline.
//
// Projections are read sequentially by one goroutine and handed to
// ProjectionWorkers consumers. Cancelling ctx stops the reading of further
// projections; backprojections already started run to completion.
//
// An input that ends early is not an error: the result is returned with
// Complete set to false.
func (r *Reconstructor) Process(ctx context.Context) (*Result, error) {
	scan := r.params.Scan
	expected := scan.NumProjections()
	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID))

	ctx, span := r.tracer.Start(ctx, "reconstruction.Process",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("scan.projections", expected),
			attribute.Int("workers.projection", r.projectionWorkers),
			attribute.Int("workers.row", r.rowWorkers),
		),
	)
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("reconstruction failed", slog.String("error", err.Error()))
		return nil, err
	}

	if h := r.params.Source.Header(); h.Count > expected {
		return fail(fmt.Errorf("%w: input announces %d, scan has %d", ErrTooManyProjections, h.Count, expected))
	}

	start := time.Now()
	vol := scan.NewVolume()
	bp := backprojection.New(scan, vol, backprojection.Options{
		RowWorkers: r.rowWorkers,
		Metrics:    r.params.Metrics,
	})

	logger.Info("reconstruction started",
		slog.Int("projections", expected),
		slog.Any("voxels", vol.Counts),
		slog.Int("projection_workers", r.projectionWorkers),
		slog.Int("row_workers", r.rowWorkers),
	)

	var (
		mu    sync.Mutex
		done  int
		total backprojection.Stats
		side  int
	)

	jobs := make(chan *models.Projection, r.projectionWorkers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		var err error
		side, err = r.feed(gctx, jobs)
		return err
	})

	for w := 0; w < r.projectionWorkers; w++ {
		g.Go(func() error {
			for p := range jobs {
				stats, err := r.backproject(gctx, bp, p)
				if err != nil {
					return err
				}

				mu.Lock()
				done++
				total.Add(stats)
				completed := done
				mu.Unlock()

				logger.Debug("projection backprojected",
					slog.Int("index", p.Index),
					slog.Float64("angle", p.Angle),
					slog.Int64("rays", stats.Rays),
					slog.Int64("missed", stats.Missed),
				)
				if r.params.Progress != nil {
					r.params.Progress(completed, expected, fmt.Sprintf("projection %g°", p.Angle))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if done == 0 {
		return fail(ErrNoProjections)
	}

	res := &Result{
		RunID:       runID,
		Volume:      vol,
		Projections: done,
		Expected:    expected,
		Complete:    done == expected,
		Side:        side,
		Stats:       total,
		Duration:    time.Since(start),
		Summary:     Summarize(vol),
	}

	span.SetAttributes(
		attribute.Int("run.projections_read", done),
		attribute.Bool("run.complete", res.Complete),
		attribute.Int64("run.rays", total.Rays),
	)
	if !res.Complete {
		logger.Warn("input ended before every source position was seen",
			slog.Int("read", done),
			slog.Int("expected", expected),
		)
	}
	logger.Info("reconstruction finished",
		slog.Duration("duration", res.Duration),
		slog.Int64("rays", total.Rays),
		slog.Int64("missed", total.Missed),
		slog.Int64("segments", total.Segments),
		slog.Float64("mean", res.Summary.Mean),
		slog.Float64("max", res.Summary.Max),
	)
	return res, nil
}

// feed reads projections, resolves their index and checks them against
// the scan before sending them to jobs. It returns the detector side.
func (r *Reconstructor) feed(ctx context.Context, jobs chan<- *models.Projection) (int, error) {
	scan := r.params.Scan
	seen := make([]bool, scan.NumProjections())
	side := 0

	for read := 0; ; read++ {
		if err := ctx.Err(); err != nil {
			return side, err
		}

		p, err := r.params.Source.Next()
		if err == io.EOF {
			return side, nil
		}
		if err != nil {
			return side, fmt.Errorf("failed to read projection %d: %w", read, err)
		}
		if read >= len(seen) {
			return side, fmt.Errorf("%w: got more than %d", ErrTooManyProjections, len(seen))
		}

		if side == 0 {
			if err := scan.CheckDetector(p.Side); err != nil {
				return side, err
			}
			side = p.Side
		} else if p.Side != side {
			return side, fmt.Errorf("%w: projection %d is %d pixels wide, expected %d", models.ErrInvalidProjection, read, p.Side, side)
		}

		index, err := scan.IndexForAngle(p.Angle)
		if err != nil {
			return side, fmt.Errorf("projection %d: %w", read, err)
		}
		if seen[index] {
			return side, fmt.Errorf("%w: %g° maps to index %d a second time", ErrDuplicateProjection, p.Angle, index)
		}
		seen[index] = true
		p.Index = index

		select {
		case jobs <- p:
		case <-ctx.Done():
			return side, ctx.Err()
		}
	}
}

func (r *Reconstructor) backproject(ctx context.Context, bp *backprojection.Backprojector, p *models.Projection) (backprojection.Stats, error) {
	_, span := r.tracer.Start(ctx, "reconstruction.backproject",
		trace.WithAttributes(
			attribute.Int("projection.index", p.Index),
			attribute.Float64("projection.angle", p.Angle),
		),
	)
	defer span.End()

	stats, err := bp.Backproject(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("projection at %g°: %w", p.Angle, err)
	}
	span.SetAttributes(
		attribute.Int64("rays", stats.Rays),
		attribute.Int64("rays.missed", stats.Missed),
	)
	return stats, nil
}
