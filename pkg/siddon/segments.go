package siddon

import (
	"math"

	"ctbackprojector/internal/assert"
	"ctbackprojector/pkg/geometry"
)

// boundaryTolerance is how far, in voxels, a midpoint may fall outside the
// grid through rounding before it counts as a geometry bug.
const boundaryTolerance = 1e-6

// VoxelAt returns the voxel containing the point at alpha along r. Indices
// that fall outside the grid are clamped to the nearest voxel.
func VoxelAt(s *geometry.ScanConfig, r geometry.Ray, alpha float64) [3]int {
	var voxel [3]int
	for _, a := range geometry.Axes {
		pos := (r.Source[a] + alpha*r.Delta(a) - s.FirstPlane(a)) / s.VoxelSize(a)
		n := s.VoxelCount(a)
		if assert.Enabled {
			assert.That(pos >= -boundaryTolerance && pos <= float64(n)+boundaryTolerance,
				"voxel coordinate %g outside [0, %d] along %s", pos, n, a)
		}

		idx := int(math.Floor(pos))
		switch {
		case idx < 0:
			idx = 0
		case idx >= n:
			idx = n - 1
		}
		voxel[a] = idx
	}
	return voxel
}

// ForEachSegment calls fn for every non-empty segment of path with the voxel
// it lies in and its length. Zero-length segments are skipped. It returns the
// number of segments visited.
func ForEachSegment(s *geometry.ScanConfig, r geometry.Ray, path Path, fn func(voxel [3]int, length float64)) int {
	d12 := r.Length()
	alphas := path.Alphas
	n := 0
	for i := 1; i < len(alphas); i++ {
		da := alphas[i] - alphas[i-1]
		if da <= 0 {
			if assert.Enabled {
				assert.That(da == 0, "alphas decrease at %d", i)
			}
			continue
		}
		mid := (alphas[i] + alphas[i-1]) / 2
		fn(VoxelAt(s, r, mid), d12*da)
		n++
	}
	return n
}
