package forward

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/siddon"
)

// ProgressCallback reports completed projections out of total.
type ProgressCallback func(completed, total int, message string)

// Projector computes line integrals of a volume along the rays of a scan.
type Projector struct {
	scan    *geometry.ScanConfig
	workers int
}

// NewProjector creates a projector. workers <= 0 means runtime.NumCPU().
func NewProjector(scan *geometry.ScanConfig, workers int) *Projector {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Projector{scan: scan, workers: workers}
}

// Project returns the side x side projection of vol for projection index.
// Every pixel holds the sum of segment length times absorption along its ray.
func (p *Projector) Project(vol *models.Volume, index, side int) *models.Projection {
	proj := models.NewProjection(p.scan.AngleOf(index), side)
	proj.Index = index

	workers := min(p.workers, side)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := siddon.NewTracer(p.scan)
			for row := w; row < side; row += workers {
				for col := 0; col < side; col++ {
					proj.Pixels[row*side+col] = p.lineIntegral(t, vol, p.scan.Ray(index, side, row, col))
				}
			}
		}()
	}
	wg.Wait()

	proj.UpdateRange()
	return proj
}

func (p *Projector) lineIntegral(t *siddon.Tracer, vol *models.Volume, r geometry.Ray) float64 {
	path, ok := t.Trace(r)
	if !ok {
		return 0
	}
	sum := 0.0
	siddon.ForEachSegment(p.scan, r, path, func(v [3]int, length float64) {
		sum += length * vol.AtVoxel(v[0], v[1], v[2])
	})
	return sum
}

// ProjectAll projects vol for every source position of the scan, in index
// order. It stops between projections when ctx is cancelled.
func (p *Projector) ProjectAll(ctx context.Context, vol *models.Volume, side int, progress ProgressCallback) ([]*models.Projection, error) {
	n := p.scan.NumProjections()
	out := make([]*models.Projection, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("projection stopped after %d of %d: %w", i, n, err)
		}
		out = append(out, p.Project(vol, i, side))
		if progress != nil {
			progress(i+1, n, fmt.Sprintf("projected %g°", p.scan.AngleOf(i)))
		}
	}
	return out, nil
}
