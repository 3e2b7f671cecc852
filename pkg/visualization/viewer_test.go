package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"ctbackprojector/internal/models"
)

// gradientVolume fills a volume with x + 10*y + 100*z.
func gradientVolume(nx, ny, nz int) *models.Volume {
	vol := models.NewVolume([3]int{nx, ny, nz}, [3]float64{1, 1, 1})
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.Add(vol.Index(x, y, z), float64(x+10*y+100*z))
			}
		}
	}
	return vol
}

// TestNewViewer verifies that the window spans the volume's value range
func TestNewViewer(t *testing.T) {
	viewer := NewViewer(gradientVolume(4, 3, 2))

	if viewer.low != 0 {
		t.Errorf("Expected window low 0, got %f", viewer.low)
	}
	if viewer.high != 123 {
		t.Errorf("Expected window high 123, got %f", viewer.high)
	}
	if len(viewer.data) != 24 {
		t.Errorf("Expected 24 voxels, got %d", len(viewer.data))
	}

	if err := viewer.SetWindow(5, 5); err == nil {
		t.Error("Expected error for empty window, got nil")
	}
}

// TestExtractSlice verifies slice orientation, size and gray levels
func TestExtractSlice(t *testing.T) {
	nx, ny, nz := 4, 3, 2
	viewer := NewViewer(gradientVolume(nx, ny, nz))

	img, err := viewer.ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != nx || b.Dy() != ny {
		t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", nx, ny, b.Dx(), b.Dy())
	}
	// the brightest voxel of the volume is (3, 2, 1)
	if got := img.Gray16At(3, 2).Y; got != 65535 {
		t.Errorf("Expected white at (3,2), got %d", got)
	}
	wantF := 100.0/123*65535 + 0.5
	if got, want := img.Gray16At(0, 0).Y, uint16(wantF); got != want {
		t.Errorf("Expected %d at (0,0), got %d", want, got)
	}

	imgX, err := viewer.ExtractSlice("X", 2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != ny || b.Dy() != nz {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", ny, nz, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", 0)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != nx || b.Dy() != nz {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", nx, nz, b.Dx(), b.Dy())
	}
	if got := imgY.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected black at the origin voxel, got %d", got)
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", nz); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	viewer := NewViewer(gradientVolume(5, 5, 3))

	n, err := viewer.SaveSliceSequence("z", outputDir, "png")
	if err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 slices, got %d", n)
	}

	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Errorf("Expected slice file does not exist: %s", filename)
			continue
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Errorf("Failed to decode %s: %v", filename, err)
			continue
		}
		if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 5 {
			t.Errorf("Unexpected slice size %v", b)
		}
	}

	if _, err := viewer.SaveSliceSequence("y", outputDir, "jpg"); err != nil {
		t.Errorf("Failed to save JPEG sequence: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "slice_y_004.jpg")); err != nil {
		t.Errorf("Expected JPEG slice: %v", err)
	}

	if _, err := viewer.SaveSliceSequence("invalid", outputDir, "png"); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.SaveSliceSequence("z", outputDir, "gif"); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}
