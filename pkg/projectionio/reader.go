// Package projectionio reads and writes stacks of square projections.
//
// Two formats are supported:
//
//   - PGM (plain "P2"): one image whose height is a multiple of its width.
//     Every block of width rows is one projection and is preceded by a
//     "# angle: <degrees>" comment.
//   - DAT: a little-endian binary header (int32 count, int32 side,
//     float64 maxVal, float64 minVal) followed, per projection, by a float64
//     angle and side*side float64 pixels.
//
// Readers are sequential: Next returns projections in file order and io.EOF
// once the stream is exhausted.
package projectionio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"ctbackprojector/internal/models"
)

var (
	// ErrUnsupportedFormat is returned for file extensions without a codec.
	ErrUnsupportedFormat = errors.New("unsupported projection format")

	// ErrMalformed is returned when a file does not follow its format.
	ErrMalformed = errors.New("malformed projection file")
)

const (
	// maxAngle bounds the absolute value of angles accepted from input.
	maxAngle = 360

	// maxSide bounds the detector side announced by a header.
	maxSide = 1 << 14
)

// Header describes a projection stack as announced by its file header.
type Header struct {
	// Count is the number of projections the file claims to hold
	Count int

	// Side is the detector side length in pixels
	Side int

	// MinVal and MaxVal are the value range shared by all projections
	MinVal float64
	MaxVal float64
}

// Reader yields projections one at a time.
type Reader interface {
	// Header returns the stack description read when the reader was opened.
	Header() Header

	// Next returns the next projection, or io.EOF when there are no more.
	// The returned projection has Index = -1.
	Next() (*models.Projection, error)

	// Close releases the underlying file, if any.
	Close() error
}

// Format returns the lower-cased extension of path, e.g. ".pgm".
func Format(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Open opens path and returns the reader matching its extension.
func Open(path string) (Reader, error) {
	format := Format(path)
	if format != ".pgm" && format != ".dat" {
		return nil, fmt.Errorf("%w: %q (supported: .pgm, .dat)", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open projections: %w", err)
	}

	var r Reader
	if format == ".pgm" {
		r, err = NewPGMReader(f)
	} else {
		r, err = NewDATReader(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Create writes projections to path using the codec matching its extension.
func Create(path string, h Header, projections []*models.Projection) error {
	var write func(f *os.File) error
	switch Format(path) {
	case ".pgm":
		write = func(f *os.File) error { return WritePGM(f, h, projections) }
	case ".dat":
		write = func(f *os.File) error { return WriteDAT(f, h, projections) }
	default:
		return fmt.Errorf("%w: %q (supported: .pgm, .dat)", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create projections file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func checkAngle(angle float64) error {
	if !(angle >= -maxAngle && angle <= maxAngle) {
		return fmt.Errorf("%w: angle %g outside [-%d, %d]", ErrMalformed, angle, maxAngle, maxAngle)
	}
	return nil
}

func checkSide(side int) error {
	if side <= 0 || side > maxSide {
		return fmt.Errorf("%w: side length %d outside [1, %d]", ErrMalformed, side, maxSide)
	}
	return nil
}

func checkPixel(index, pixel int, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: projection %d, pixel %d is %g", ErrMalformed, index, pixel, v)
	}
	return nil
}

// newBlock starts a projection whose pixels are appended as they are read,
// so a header announcing more data than the stream holds allocates nothing
// up front.
func newBlock(angle float64, h Header) *models.Projection {
	return &models.Projection{
		Angle:  angle,
		Index:  -1,
		Side:   h.Side,
		MinVal: h.MinVal,
		MaxVal: h.MaxVal,
		Pixels: make([]float64, 0, h.Side),
	}
}

func checkProjections(h Header, projections []*models.Projection) error {
	for i, p := range projections {
		if p.Side != h.Side || len(p.Pixels) != h.Side*h.Side {
			return fmt.Errorf("%w: projection %d is %dx%d, header says %d", models.ErrInvalidProjection, i, p.Side, p.Side, h.Side)
		}
		if err := checkAngle(p.Angle); err != nil {
			return err
		}
	}
	return nil
}

// HeaderFor builds a header spanning the value range of every projection.
func HeaderFor(projections []*models.Projection) Header {
	if len(projections) == 0 {
		return Header{}
	}
	h := Header{
		Count:  len(projections),
		Side:   projections[0].Side,
		MinVal: math.Inf(1),
		MaxVal: math.Inf(-1),
	}
	for _, p := range projections {
		h.MinVal = math.Min(h.MinVal, floats.Min(p.Pixels))
		h.MaxVal = math.Max(h.MaxVal, floats.Max(p.Pixels))
	}
	if !(h.MaxVal > h.MinVal) {
		h.MaxVal = h.MinVal + 1
	}
	return h
}

// Quantize rescales the pixels of every projection in place from the range
// in h to integer levels in [0, levels], and returns the matching header.
func Quantize(h Header, projections []*models.Projection, levels int) Header {
	scale := float64(levels) / (h.MaxVal - h.MinVal)
	for _, p := range projections {
		for i, v := range p.Pixels {
			p.Pixels[i] = math.Round((v - h.MinVal) * scale)
		}
		p.MinVal, p.MaxVal = 0, float64(levels)
	}
	h.MinVal, h.MaxVal = 0, float64(levels)
	return h
}
