package siddon

import (
	"sort"

	"ctbackprojector/internal/assert"
	"ctbackprojector/pkg/geometry"
)

// Path is the traversal of one ray through the volume.
type Path struct {
	// Alphas is the ascending sequence aMin, every plane crossing, aMax.
	// Consecutive values delimit the segments inside single voxels.
	Alphas []float64

	// AMin and AMax bound the part of the ray inside the volume
	AMin, AMax float64

	// Parallel is the axis the ray does not move along, if any
	Parallel geometry.Axis

	// Ranges are the plane index ranges crossed along each axis
	Ranges [3]PlaneRange
}

// Tracer computes ray paths using preallocated buffers sized from the scan's
// plane counts, so tracing a ray does not allocate.
//
// A Tracer must not be shared between goroutines; give each worker its own.
type Tracer struct {
	scan   *geometry.ScanConfig
	axis   [3][]float64
	merged []float64
}

// NewTracer allocates a tracer for scan.
func NewTracer(scan *geometry.ScanConfig) *Tracer {
	t := &Tracer{scan: scan}
	total := 2
	for _, a := range geometry.Axes {
		n := scan.NumPlanes(a)
		t.axis[a] = make([]float64, 0, n)
		total += n
	}
	t.merged = make([]float64, 0, total)
	return t
}

// Scan returns the scan the tracer was built for.
func (t *Tracer) Scan() *geometry.ScanConfig { return t.scan }

// Trace computes the path of r through the volume. It returns false when
// the ray misses the volume or has non-finite endpoints.
//
// The returned Alphas alias the tracer's buffers and are only valid until
// the next call to Trace.
func (t *Tracer) Trace(r geometry.Ray) (Path, bool) {
	if !finite(r.Source) || !finite(r.Pixel) {
		assert.That(false, "non-finite ray %v -> %v", r.Source, r.Pixel)
		return Path{}, false
	}

	path := Path{Parallel: ParallelAxis(r)}
	path.AMin, path.AMax = AlphaBounds(SidesIntersections(t.scan, r))
	if path.AMin >= path.AMax {
		return path, false
	}

	path.Ranges = PlaneRanges(t.scan, r, path.AMin, path.AMax)
	for _, a := range geometry.Axes {
		t.axis[a] = AxisIntersections(t.scan, r, a, path.Ranges[a], path.AMin, path.AMax, t.axis[a][:0])
		if assert.Enabled {
			assert.That(sort.Float64sAreSorted(t.axis[a]), "%s crossings out of order", a)
		}
	}

	merged := append(t.merged[:0], path.AMin)
	merged = Merge(t.axis[geometry.X], t.axis[geometry.Y], t.axis[geometry.Z], merged)
	merged = append(merged, path.AMax)
	if assert.Enabled {
		assert.That(sort.Float64sAreSorted(merged), "merged crossings out of order")
	}

	t.merged = merged[:0]
	path.Alphas = merged
	return path, true
}
