package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidProjection is returned when a projection cannot be backprojected
// as read (wrong pixel count, degenerate value range, ...).
var ErrInvalidProjection = errors.New("invalid projection")

// Projection represents a single square X-ray projection with metadata
type Projection struct {
	// Angle is the source angle in degrees, as found in the input stream
	Angle float64

	// Index is the slot of this projection among all projections of the scan.
	// It is recovered from Angle and is -1 until resolved.
	Index int

	// Side is the number of pixels on one side of the (square) detector
	Side int

	// MinVal and MaxVal bound the pixel values and are used for normalization
	MinVal float64
	MaxVal float64

	// Pixels holds Side*Side intensities in row-major order
	Pixels []float64
}

// NewProjection allocates a zeroed projection of the given side length.
func NewProjection(angle float64, side int) *Projection {
	return &Projection{
		Angle:  angle,
		Index:  -1,
		Side:   side,
		Pixels: make([]float64, side*side),
	}
}

// At returns the pixel value at the given row and column.
func (p *Projection) At(row, col int) float64 {
	return p.Pixels[row*p.Side+col]
}

// Normalized maps a raw pixel value onto [0, 1] using MinVal and MaxVal.
// Values outside the declared range are clamped.
func (p *Projection) Normalized(value float64) float64 {
	n := (value - p.MinVal) / (p.MaxVal - p.MinVal)
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}

// Validate checks the structural invariants the backprojector relies on.
func (p *Projection) Validate() error {
	if p.Side <= 0 {
		return fmt.Errorf("%w: side length %d must be positive", ErrInvalidProjection, p.Side)
	}
	if len(p.Pixels) != p.Side*p.Side {
		return fmt.Errorf("%w: expected %d pixels, got %d", ErrInvalidProjection, p.Side*p.Side, len(p.Pixels))
	}
	if !(p.MaxVal > p.MinVal) || !finite(p.MinVal) || !finite(p.MaxVal) {
		return fmt.Errorf("%w: max value %g must exceed min value %g", ErrInvalidProjection, p.MaxVal, p.MinVal)
	}
	for i, v := range p.Pixels {
		if !finite(v) {
			return fmt.Errorf("%w: pixel (%d, %d) is %g", ErrInvalidProjection, i/p.Side, i%p.Side, v)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UpdateRange recomputes MinVal and MaxVal from the pixel data.
// A flat image gets MaxVal = MinVal + 1 so that normalization stays defined.
func (p *Projection) UpdateRange() {
	if len(p.Pixels) == 0 {
		return
	}
	lo, hi := p.Pixels[0], p.Pixels[0]
	for _, v := range p.Pixels[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	p.MinVal, p.MaxVal = lo, hi
}
