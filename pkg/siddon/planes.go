package siddon

import (
	"math"

	"ctbackprojector/pkg/geometry"
)

// PlaneRange is the inclusive range of plane indices a ray crosses along one
// axis. It is empty when Min > Max.
type PlaneRange struct {
	Min, Max int
}

// Len returns the number of planes in the range.
func (p PlaneRange) Len() int {
	if p.Max < p.Min {
		return 0
	}
	return p.Max - p.Min + 1
}

var emptyRange = PlaneRange{Min: 0, Max: -1}

// PlaneRanges returns, for each axis, the planes whose position lies between
// the ray's entry (aMin) and exit (aMax) points, clipped to the grid.
func PlaneRanges(s *geometry.ScanConfig, r geometry.Ray, aMin, aMax float64) [3]PlaneRange {
	var ranges [3]PlaneRange
	for _, a := range geometry.Axes {
		d := r.Delta(a)
		if d == 0 {
			ranges[a] = emptyRange
			continue
		}

		// Along a decreasing axis the exit point has the lower coordinate.
		lo, hi := aMin, aMax
		if d < 0 {
			lo, hi = aMax, aMin
		}
		first, size := s.FirstPlane(a), s.VoxelSize(a)
		minIndex := int(math.Ceil((r.Source[a] + lo*d - first) / size))
		maxIndex := int(math.Floor((r.Source[a] + hi*d - first) / size))

		if minIndex < 0 {
			minIndex = 0
		}
		if last := s.NumPlanes(a) - 1; maxIndex > last {
			maxIndex = last
		}
		if minIndex > maxIndex {
			ranges[a] = emptyRange
			continue
		}
		ranges[a] = PlaneRange{Min: minIndex, Max: maxIndex}
	}
	return ranges
}

// AxisIntersections appends to dst the alpha of every plane of axis a in
// rng, in ascending alpha order. Values are clamped to [aMin, aMax].
func AxisIntersections(s *geometry.ScanConfig, r geometry.Ray, a geometry.Axis, rng PlaneRange, aMin, aMax float64, dst []float64) []float64 {
	if rng.Len() == 0 {
		return dst
	}
	d := r.Delta(a)
	src := r.Source[a]

	if d > 0 {
		for k := rng.Min; k <= rng.Max; k++ {
			dst = append(dst, clamp((s.PlanePosition(a, k)-src)/d, aMin, aMax))
		}
	} else {
		for k := rng.Max; k >= rng.Min; k-- {
			dst = append(dst, clamp((s.PlanePosition(a, k)-src)/d, aMin, aMax))
		}
	}
	return dst
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
