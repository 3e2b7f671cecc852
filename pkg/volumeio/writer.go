// Package volumeio writes reconstructed volumes to disk.
//
// The output format is chosen from the file extension:
//
//	.nrrd  NRRD0004 header followed by raw little-endian doubles
//	.raw   raw little-endian doubles only
//	.vtk   legacy ASCII VTK structured points
//
// All formats store voxels with x varying fastest, then y, then z.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"ctbackprojector/internal/models"
)

// ErrUnsupportedFormat is returned for extensions without a writer.
var ErrUnsupportedFormat = errors.New("unsupported volume format")

// Meta carries run information recorded next to the voxel data where the
// format allows it.
type Meta struct {
	// RunID identifies the reconstruction run
	RunID string

	// Projections is the number of projections accumulated
	Projections int

	// Expected is the number of projections the scan called for
	Expected int
}

// Partial reports whether fewer projections were accumulated than expected.
func (m Meta) Partial() bool {
	return m.Projections < m.Expected
}

// Formats lists the supported output extensions.
var Formats = []string{".nrrd", ".raw", ".vtk"}

// Supported reports whether path has a known output extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range Formats {
		if ext == f {
			return true
		}
	}
	return false
}

// Write stores vol at path in the format matching its extension.
func Write(path string, vol *models.Volume, meta Meta) error {
	var encode func(io.Writer, *models.Volume, Meta) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nrrd":
		encode = WriteNRRD
	case ".raw":
		encode = func(w io.Writer, v *models.Volume, _ Meta) error { return WriteRaw(w, v) }
	case ".vtk":
		encode = WriteVTK
	default:
		return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, filepath.Ext(path), strings.Join(Formats, ", "))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw, vol, meta); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write volume: %w", err)
	}
	return f.Close()
}

// WriteNRRD writes an attached-header NRRD file: text header, blank line, then
// the raw payload.
func WriteNRRD(w io.Writer, vol *models.Volume, meta Meta) error {
	var b strings.Builder
	b.WriteString("NRRD0004\n")
	b.WriteString("# Complete NRRD file format specification at:\n")
	b.WriteString("# http://teem.sourceforge.net/nrrd/format.html\n")
	if meta.RunID != "" {
		fmt.Fprintf(&b, "# run: %s\n", meta.RunID)
	}
	if meta.Partial() {
		fmt.Fprintf(&b, "# partial: %d of %d projections\n", meta.Projections, meta.Expected)
	}
	b.WriteString("type: double\n")
	b.WriteString("dimension: 3\n")
	fmt.Fprintf(&b, "sizes: %d %d %d\n", vol.Counts[0], vol.Counts[1], vol.Counts[2])
	fmt.Fprintf(&b, "spacings: %g %g %g\n", vol.VoxelSize[0], vol.VoxelSize[1], vol.VoxelSize[2])
	b.WriteString("endian: little\n")
	b.WriteString("encoding: raw\n")
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write NRRD header: %w", err)
	}
	return WriteRaw(w, vol)
}

// WriteRaw writes the coefficients as little-endian float64 values.
func WriteRaw(w io.Writer, vol *models.Volume) error {
	var buf [8]byte
	for i := 0; i < vol.Len(); i++ {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(vol.At(i)))
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write voxel %d: %w", i, err)
		}
	}
	return nil
}

// WriteVTK writes a legacy ASCII structured points dataset centered on the
// origin.
func WriteVTK(w io.Writer, vol *models.Volume, meta Meta) error {
	title := "ctbackprojector volume"
	if meta.RunID != "" {
		title += " " + meta.RunID
	}
	if meta.Partial() {
		title += fmt.Sprintf(" (partial: %d of %d projections)", meta.Projections, meta.Expected)
	}

	ext := vol.Extent()
	var origin [3]float64
	for i := range origin {
		origin[i] = -ext[i]/2 + vol.VoxelSize[i]/2
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# vtk DataFile Version 3.0\n%s\nASCII\nDATASET STRUCTURED_POINTS\n", title)
	fmt.Fprintf(bw, "DIMENSIONS %d %d %d\n", vol.Counts[0], vol.Counts[1], vol.Counts[2])
	fmt.Fprintf(bw, "ORIGIN %g %g %g\n", origin[0], origin[1], origin[2])
	fmt.Fprintf(bw, "SPACING %g %g %g\n", vol.VoxelSize[0], vol.VoxelSize[1], vol.VoxelSize[2])
	fmt.Fprintf(bw, "POINT_DATA %d\n", vol.Len())
	bw.WriteString("SCALARS absorption double 1\nLOOKUP_TABLE default\n")

	perLine := vol.Counts[0]
	for i := 0; i < vol.Len(); i++ {
		if i%perLine != 0 {
			bw.WriteByte(' ')
		}
		fmt.Fprintf(bw, "%g", vol.At(i))
		if i%perLine == perLine-1 {
			bw.WriteByte('\n')
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write VTK: %w", err)
	}
	return nil
}
