// Package backprojection accumulates projections into a volume: every pixel
// of a projection defines a ray from the source, and the normalized pixel
// value is spread over the voxels that ray crosses, weighted by the length
// of the ray inside each voxel.
package backprojection

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/siddon"
)

// Stats summarizes the work done for one or more projections.
type Stats struct {
	// Rays is the number of rays traced
	Rays int64

	// Missed is the number of rays that did not hit the volume
	Missed int64

	// Segments is the number of voxel segments deposited
	Segments int64
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.Rays += o.Rays
	s.Missed += o.Missed
	s.Segments += o.Segments
}

// Options tunes a Backprojector.
type Options struct {
	// RowWorkers is the number of goroutines sharing the rows of one
	// projection. Zero means runtime.NumCPU().
	RowWorkers int

	// Metrics is updated after every projection when non-nil
	Metrics *Metrics
}

// Backprojector backprojects projections into one volume. Backproject may be
// called concurrently for different projections; all of them write into the
// same volume through atomic adds.
type Backprojector struct {
	scan       *geometry.ScanConfig
	acc        *Accumulator
	rowWorkers int
	metrics    *Metrics

	// tracers recycles per-worker workspaces between projections
	tracers sync.Pool
}

// New creates a backprojector writing into volume, which must have been
// allocated for scan.
func New(scan *geometry.ScanConfig, volume *models.Volume, opts Options) *Backprojector {
	workers := opts.RowWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	b := &Backprojector{
		scan:       scan,
		acc:        NewAccumulator(scan, volume),
		rowWorkers: workers,
		metrics:    opts.Metrics,
	}
	b.tracers.New = func() any { return siddon.NewTracer(scan) }
	return b
}

// Volume returns the volume being accumulated.
func (b *Backprojector) Volume() *models.Volume { return b.acc.Volume() }

// Scan returns the scan geometry.
func (b *Backprojector) Scan() *geometry.ScanConfig { return b.scan }

// Backproject adds the contribution of every pixel of p to the volume.
//
// p.Index must already be resolved. Rows are split into contiguous bands,
// one per worker, and each worker traces with its own Tracer.
func (b *Backprojector) Backproject(p *models.Projection) (Stats, error) {
	if err := p.Validate(); err != nil {
		return Stats{}, err
	}
	if p.Index < 0 || p.Index >= b.scan.NumProjections() {
		return Stats{}, fmt.Errorf("%w: index %d outside [0, %d)", models.ErrInvalidProjection, p.Index, b.scan.NumProjections())
	}

	start := time.Now()
	workers := b.rowWorkers
	if workers > p.Side {
		workers = p.Side
	}
	band := (p.Side + workers - 1) / workers

	var (
		mu    sync.Mutex
		total Stats
		g     errgroup.Group
	)
	for w := 0; w < workers; w++ {
		first := w * band
		last := min(first+band, p.Side)
		if first >= last {
			break
		}
		g.Go(func() error {
			s := b.backprojectRows(p, first, last)
			mu.Lock()
			total.Add(s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}

	b.metrics.observe(total, time.Since(start))
	return total, nil
}

func (b *Backprojector) backprojectRows(p *models.Projection, first, last int) Stats {
	t := b.tracers.Get().(*siddon.Tracer)
	defer b.tracers.Put(t)

	var s Stats
	for row := first; row < last; row++ {
		for col := 0; col < p.Side; col++ {
			r := b.scan.Ray(p.Index, p.Side, row, col)
			n, hit := b.acc.AccumulateRay(t, r, p.Normalized(p.At(row, col)))
			s.Rays++
			if !hit {
				s.Missed++
				continue
			}
			s.Segments += int64(n)
		}
	}
	return s
}
