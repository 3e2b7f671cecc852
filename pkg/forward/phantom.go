// Package forward simulates acquisitions: it fills volumes with analytic
// phantoms and computes the projections a scanner would record for them.
package forward

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
)

// Phantom is an analytic absorption map centered on the origin.
type Phantom interface {
	// Absorption returns the coefficient at p
	Absorption(p geometry.Point3D) float64
}

// Sphere has unit absorption within Radius of the origin.
type Sphere struct {
	Radius float64
}

func (s Sphere) Absorption(p geometry.Point3D) float64 {
	if r3.Norm2(p.Vec()) <= s.Radius*s.Radius {
		return 1
	}
	return 0
}

func (s Sphere) String() string { return fmt.Sprintf("sphere(r=%g)", s.Radius) }

// Cube has unit absorption inside the axis-aligned cube [-HalfSide, HalfSide]^3.
type Cube struct {
	HalfSide float64
}

func (c Cube) Absorption(p geometry.Point3D) float64 {
	for _, a := range geometry.Axes {
		if math.Abs(p.At(a)) > c.HalfSide {
			return 0
		}
	}
	return 1
}

func (c Cube) String() string { return fmt.Sprintf("cube(half=%g)", c.HalfSide) }

// NewPhantom builds a phantom by name; size is the radius or half side.
func NewPhantom(name string, size float64) (Phantom, error) {
	if !(size > 0) {
		return nil, fmt.Errorf("phantom size must be positive, got %g", size)
	}
	switch name {
	case "sphere":
		return Sphere{Radius: size}, nil
	case "cube":
		return Cube{HalfSide: size}, nil
	}
	return nil, fmt.Errorf("unknown phantom %q (want sphere or cube)", name)
}

// VoxelCenter returns the position of the center of voxel (x, y, z).
func VoxelCenter(vol *models.Volume, x, y, z int) geometry.Point3D {
	ext := vol.Extent()
	idx := [3]int{x, y, z}
	var p geometry.Point3D
	for i := range p {
		p[i] = -ext[i]/2 + (float64(idx[i])+0.5)*vol.VoxelSize[i]
	}
	return p
}

// Fill resets vol and samples ph at every voxel center.
func Fill(vol *models.Volume, ph Phantom) {
	vol.Reset()
	for z := 0; z < vol.Counts[2]; z++ {
		for y := 0; y < vol.Counts[1]; y++ {
			for x := 0; x < vol.Counts[0]; x++ {
				if mu := ph.Absorption(VoxelCenter(vol, x, y, z)); mu != 0 {
					vol.Add(vol.Index(x, y, z), mu)
				}
			}
		}
	}
}
