// Package siddon implements Siddon's exact ray-voxel traversal.
//
// A ray is parametrized as P(alpha) = source + alpha*(pixel - source) with
// alpha in [0, 1]. The traversal finds the alpha range inside the volume,
// the alpha of every voxel plane crossed in that range and, from consecutive
// crossings, the voxels visited and the length of the ray inside each.
package siddon

import (
	"math"

	"ctbackprojector/pkg/geometry"
)

// Sides holds, per axis, the alpha at which the ray meets the first and the
// last plane of that axis.
type Sides [3][2]float64

// ParallelAxis returns the first axis (X, Y, Z order) along which the source
// and pixel coordinates are exactly equal, or geometry.None.
func ParallelAxis(r geometry.Ray) geometry.Axis {
	for _, a := range geometry.Axes {
		if r.Source[a] == r.Pixel[a] {
			return a
		}
	}
	return geometry.None
}

// SidesIntersections computes the alpha of the ray at the bounding planes of
// every axis.
//
// An axis along which the ray does not move has no intersection. It is
// encoded as an unbounded interval when the ray lies inside that axis' slab
// and as an empty one otherwise, so AlphaBounds needs no special case.
func SidesIntersections(s *geometry.ScanConfig, r geometry.Ray) Sides {
	var sides Sides
	for _, a := range geometry.Axes {
		d := r.Delta(a)
		if d == 0 {
			src := r.Source[a]
			if src >= s.FirstPlane(a) && src <= s.LastPlane(a) {
				sides[a] = [2]float64{math.Inf(-1), math.Inf(1)}
			} else {
				sides[a] = [2]float64{math.Inf(1), math.Inf(1)}
			}
			continue
		}
		sides[a][0] = (s.FirstPlane(a) - r.Source[a]) / d
		sides[a][1] = (s.LastPlane(a) - r.Source[a]) / d
	}
	return sides
}

// AlphaBounds returns the alpha range [aMin, aMax] in which the ray is inside
// the volume. The ray misses the volume when aMin >= aMax.
func AlphaBounds(sides Sides) (aMin, aMax float64) {
	aMin, aMax = 0, 1
	for _, a := range geometry.Axes {
		aMin = math.Max(aMin, math.Min(sides[a][0], sides[a][1]))
		aMax = math.Min(aMax, math.Max(sides[a][0], sides[a][1]))
	}
	return aMin, aMax
}

func finite(p geometry.Point3D) bool {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
