// Package geometry models the acquisition geometry of a circular cone-beam scan:
// where the X-ray source and every detector pixel sit for a given projection,
// and where the voxel grid planes lie.
//
// The origin of the coordinate system is the center of the reconstructed
// volume. The source moves on a circle of radius SourceDistance in the X-Y
// plane and the flat detector faces it from the opposite side.
package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Axis identifies one of the three coordinate axes.
type Axis int

const (
	// None signals that a ray is not parallel to any axis.
	None Axis = iota - 1
	X
	Y
	Z
)

// Axes lists the three real axes in traversal order.
var Axes = [3]Axis{X, Y, Z}

func (a Axis) String() string {
	switch a {
	case None:
		return "none"
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Point3D is a point in scanner space, addressable by axis.
type Point3D [3]float64

// NewPoint3D builds a point from its coordinates.
func NewPoint3D(x, y, z float64) Point3D {
	return Point3D{x, y, z}
}

func (p Point3D) X() float64 { return p[X] }
func (p Point3D) Y() float64 { return p[Y] }
func (p Point3D) Z() float64 { return p[Z] }

// At returns the coordinate along axis a.
func (p Point3D) At(a Axis) float64 { return p[a] }

// Vec converts the point to a gonum vector.
func (p Point3D) Vec() r3.Vec { return r3.Vec{X: p[X], Y: p[Y], Z: p[Z]} }

// FromVec converts a gonum vector to a point.
func FromVec(v r3.Vec) Point3D { return Point3D{v.X, v.Y, v.Z} }

// Ray is the segment from the X-ray source (alpha = 0) to a detector pixel
// (alpha = 1).
type Ray struct {
	Source Point3D
	Pixel  Point3D
}

// Delta returns pixel[a] - source[a].
func (r Ray) Delta(a Axis) float64 {
	return r.Pixel[a] - r.Source[a]
}

// At returns the point at parameter alpha along the ray.
func (r Ray) At(alpha float64) Point3D {
	s := r.Source.Vec()
	return FromVec(r3.Add(s, r3.Scale(alpha, r3.Sub(r.Pixel.Vec(), s))))
}

// Length is the Euclidean source-to-pixel distance.
func (r Ray) Length() float64 {
	return r3.Norm(r3.Sub(r.Pixel.Vec(), r.Source.Vec()))
}
