// Package visualization renders axis-aligned slices of a reconstructed
// volume as grayscale images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
)

// Viewer extracts slices and regions from a reconstructed volume.
//
// Coefficients are mapped linearly onto 16-bit gray levels using a window,
// by default the value range of the whole volume, so that slices of one
// volume share a common scale.
type Viewer struct {
	// volume holds the reconstructed absorption coefficients
	volume *models.Volume

	// data is a snapshot of the coefficients in flattening order
	data []float64

	// window bounds mapped to black and white
	low  float64
	high float64
}

// NewViewer creates a viewer over a snapshot of vol.
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{
		volume: vol,
		data:   vol.Data(),
	}
	if len(v.data) > 0 {
		v.low, v.high = floats.Min(v.data), floats.Max(v.data)
	}
	return v
}

// SetWindow overrides the value range mapped onto gray levels.
func (v *Viewer) SetWindow(low, high float64) error {
	if !(high > low) {
		return fmt.Errorf("window high %g must exceed low %g", high, low)
	}
	v.low, v.high = low, high
	return nil
}

// ParseAxis converts "x", "y" or "z" (any case) to an axis.
func ParseAxis(s string) (geometry.Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return geometry.X, nil
	case "y":
		return geometry.Y, nil
	case "z":
		return geometry.Z, nil
	}
	return geometry.None, fmt.Errorf("invalid axis: %s (must be x, y, or z)", s)
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.high <= v.low {
		return color.Gray16{}
	}
	n := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, n)) * 65535))}
}

// ExtractSlice extracts a 2D slice across the given axis.
//
// The image is Y (columns) by Z (rows) for an x slice, X by Z for a y slice
// and X by Y for a z slice.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	a, err := ParseAxis(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	counts := v.volume.Counts
	if position >= counts[a] {
		return nil, fmt.Errorf("position %d exceeds %s size %d", position, a, counts[a])
	}

	var img *image.Gray16
	switch a {
	case geometry.X:
		img = image.NewGray16(image.Rect(0, 0, counts[1], counts[2]))
		for z := 0; z < counts[2]; z++ {
			for y := 0; y < counts[1]; y++ {
				img.SetGray16(y, z, v.gray(v.data[v.volume.Index(position, y, z)]))
			}
		}
	case geometry.Y:
		img = image.NewGray16(image.Rect(0, 0, counts[0], counts[2]))
		for z := 0; z < counts[2]; z++ {
			for x := 0; x < counts[0]; x++ {
				img.SetGray16(x, z, v.gray(v.data[v.volume.Index(x, position, z)]))
			}
		}
	case geometry.Z:
		img = image.NewGray16(image.Rect(0, 0, counts[0], counts[1]))
		for y := 0; y < counts[1]; y++ {
			for x := 0; x < counts[0]; x++ {
				img.SetGray16(x, y, v.gray(v.data[v.volume.Index(x, y, position)]))
			}
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a PNG (".png") or JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(filename), ".png") {
		return png.Encode(file, img)
	}
	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice across the given axis
// as slice_<axis>_<NNN>.<ext> in outputDir. ext is "png" or "jpg".
func (v *Viewer) SaveSliceSequence(axis, outputDir, ext string) (int, error) {
	a, err := ParseAxis(axis)
	if err != nil {
		return 0, err
	}
	if ext != "png" && ext != "jpg" {
		return 0, fmt.Errorf("unsupported slice format %q", ext)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	n := v.volume.Counts[a]
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", a, pos, ext))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}

	return n, nil
}
