package models

import (
	"math"
	"sync/atomic"
)

// Volume represents the reconstructed 3D grid of absorption coefficients.
//
// Coefficients are flattened with x varying fastest:
//
//	index = x + y*NX + z*NX*NY
//
// Every reader and writer of the volume goes through Index so the order is
// defined in one place. Values are stored as float64 bits in atomic words so
// that concurrent Add calls from many rays never lose an update.
type Volume struct {
	// Counts is the number of voxels along X, Y and Z
	Counts [3]int

	// VoxelSize is the physical size of a voxel along X, Y and Z
	VoxelSize [3]float64

	coefficients []atomic.Uint64
}

// NewVolume allocates a zero-initialized volume.
func NewVolume(counts [3]int, voxelSize [3]float64) *Volume {
	return &Volume{
		Counts:       counts,
		VoxelSize:    voxelSize,
		coefficients: make([]atomic.Uint64, counts[0]*counts[1]*counts[2]),
	}
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return len(v.coefficients)
}

// Index flattens voxel coordinates.
func (v *Volume) Index(x, y, z int) int {
	return x + y*v.Counts[0] + z*v.Counts[0]*v.Counts[1]
}

// Coords is the inverse of Index.
func (v *Volume) Coords(index int) (x, y, z int) {
	plane := v.Counts[0] * v.Counts[1]
	z = index / plane
	rest := index % plane
	y = rest / v.Counts[0]
	x = rest % v.Counts[0]
	return x, y, z
}

// At returns the coefficient stored at a flat index.
func (v *Volume) At(index int) float64 {
	return math.Float64frombits(v.coefficients[index].Load())
}

// AtVoxel returns the coefficient of voxel (x, y, z).
func (v *Volume) AtVoxel(x, y, z int) float64 {
	return v.At(v.Index(x, y, z))
}

// Add atomically adds delta to the coefficient at a flat index.
func (v *Volume) Add(index int, delta float64) {
	word := &v.coefficients[index]
	for {
		old := word.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if word.CompareAndSwap(old, next) {
			return
		}
	}
}

// Reset zeroes every coefficient. It must not run concurrently with Add.
func (v *Volume) Reset() {
	for i := range v.coefficients {
		v.coefficients[i].Store(0)
	}
}

// Data copies the coefficients into a plain slice in flattening order.
func (v *Volume) Data() []float64 {
	out := make([]float64, len(v.coefficients))
	for i := range v.coefficients {
		out[i] = math.Float64frombits(v.coefficients[i].Load())
	}
	return out
}

// Extent returns the physical size of the volume along each axis.
func (v *Volume) Extent() [3]float64 {
	var e [3]float64
	for i := range e {
		e[i] = float64(v.Counts[i]) * v.VoxelSize[i]
	}
	return e
}
