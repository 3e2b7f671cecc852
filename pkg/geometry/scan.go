package geometry

import (
	"errors"
	"fmt"
	"math"

	"ctbackprojector/internal/models"
)

var (
	// ErrInvalidConfig is returned for scan parameters that cannot describe a
	// valid acquisition.
	ErrInvalidConfig = errors.New("invalid scan configuration")

	// ErrAngleOffGrid is returned when a projection angle does not match any
	// source position of the scan.
	ErrAngleOffGrid = errors.New("projection angle does not match the acquisition arc")
)

// angleTolerance is the fraction of a step an angle may deviate from the grid.
const angleTolerance = 1e-6

// Params holds the raw acquisition parameters. Lengths share one unit
// (micrometers in the default configuration), angles are in degrees.
type Params struct {
	// VoxelSize is the size of a voxel along X, Y and Z
	VoxelSize [3]float64

	// VoxelCount is the number of voxels along X, Y and Z
	VoxelCount [3]int

	// PixelSize is the side length of a square detector pixel
	PixelSize float64

	// DetectorPixels is the number of pixels on a detector side.
	// Zero means it is taken from the first projection.
	DetectorPixels int

	// Aperture is the angular range covered by the source
	Aperture float64

	// StepAngle is the angular distance between two source positions
	StepAngle float64

	// SourceDistance is the distance from the volume center to the source
	SourceDistance float64

	// DetectorDistance is the distance from the volume center to the detector
	DetectorDistance float64
}

// ScanConfig is the immutable, fully derived description of a scan. It is
// built once before any ray is traced and shared read-only by all workers.
type ScanConfig struct {
	params       Params
	nProjections int
	firstPlane   [3]float64
	lastPlane    [3]float64
	sinTable     []float64
	cosTable     []float64
}

// NewScanConfig validates p and precomputes the angle and plane tables.
func NewScanConfig(p Params) (*ScanConfig, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	s := &ScanConfig{
		params:       p,
		nProjections: numProjections(p.Aperture, p.StepAngle),
	}

	for _, a := range Axes {
		s.firstPlane[a] = -(p.VoxelSize[a] * float64(p.VoxelCount[a])) / 2
		s.lastPlane[a] = -s.firstPlane[a]
	}

	s.sinTable = make([]float64, s.nProjections)
	s.cosTable = make([]float64, s.nProjections)
	for i := 0; i < s.nProjections; i++ {
		rad := s.AngleOf(i) * math.Pi / 180
		s.sinTable[i], s.cosTable[i] = math.Sincos(rad)
	}

	return s, nil
}

// numProjections counts the source positions of the arc, both ends included.
// A closed arc stops one step short of revisiting its first position.
func numProjections(aperture, step float64) int {
	n := int(math.Floor(aperture/step+angleTolerance)) + 1
	distinct := int(math.Ceil(360/step - angleTolerance))
	return min(n, distinct)
}

func validate(p Params) error {
	for _, a := range Axes {
		if !(p.VoxelSize[a] > 0) {
			return fmt.Errorf("%w: voxel size along %s must be positive, got %g", ErrInvalidConfig, a, p.VoxelSize[a])
		}
		if p.VoxelCount[a] <= 0 {
			return fmt.Errorf("%w: voxel count along %s must be positive, got %d", ErrInvalidConfig, a, p.VoxelCount[a])
		}
	}
	if !(p.PixelSize > 0) {
		return fmt.Errorf("%w: pixel size must be positive, got %g", ErrInvalidConfig, p.PixelSize)
	}
	if p.DetectorPixels < 0 {
		return fmt.Errorf("%w: detector pixel count must not be negative, got %d", ErrInvalidConfig, p.DetectorPixels)
	}
	if !(p.StepAngle > 0) {
		return fmt.Errorf("%w: step angle must be positive, got %g", ErrInvalidConfig, p.StepAngle)
	}
	if p.Aperture < 0 || p.Aperture > 360 {
		return fmt.Errorf("%w: aperture must lie in [0, 360], got %g", ErrInvalidConfig, p.Aperture)
	}
	if !(p.DetectorDistance > 0) {
		return fmt.Errorf("%w: detector distance must be positive, got %g", ErrInvalidConfig, p.DetectorDistance)
	}

	// The source has to stay outside the volume for every angle.
	halfX := p.VoxelSize[X] * float64(p.VoxelCount[X]) / 2
	halfY := p.VoxelSize[Y] * float64(p.VoxelCount[Y]) / 2
	if radius := math.Hypot(halfX, halfY); !(p.SourceDistance > radius) {
		return fmt.Errorf("%w: source distance %g must exceed the volume radius %g", ErrInvalidConfig, p.SourceDistance, radius)
	}
	return nil
}

// Params returns the parameters the configuration was built from.
func (s *ScanConfig) Params() Params { return s.params }

// NumProjections is the number of distinct source positions on the arc,
// both ends included.
func (s *ScanConfig) NumProjections() int { return s.nProjections }

// NumPlanes is the number of voxel boundary planes along axis a.
func (s *ScanConfig) NumPlanes(a Axis) int { return s.params.VoxelCount[a] + 1 }

// VoxelCount is the number of voxels along axis a.
func (s *ScanConfig) VoxelCount(a Axis) int { return s.params.VoxelCount[a] }

// VoxelSize is the voxel size along axis a.
func (s *ScanConfig) VoxelSize(a Axis) float64 { return s.params.VoxelSize[a] }

// FirstPlane is the position of plane 0 along axis a.
func (s *ScanConfig) FirstPlane(a Axis) float64 { return s.firstPlane[a] }

// LastPlane is the position of the last plane along axis a.
func (s *ScanConfig) LastPlane(a Axis) float64 { return s.lastPlane[a] }

// PlanePosition returns the coordinate of plane index along axis a.
func (s *ScanConfig) PlanePosition(a Axis, index int) float64 {
	return s.firstPlane[a] + float64(index)*s.params.VoxelSize[a]
}

// PathNormalization is the sum of source and detector distances, used to
// bring segment lengths onto a unit scale.
func (s *ScanConfig) PathNormalization() float64 {
	return s.params.SourceDistance + s.params.DetectorDistance
}

// AngleOf returns the source angle in degrees of projection index, wrapped
// into [0, 360).
func (s *ScanConfig) AngleOf(index int) float64 {
	return math.Mod(s.params.Aperture/2+float64(index)*s.params.StepAngle, 360)
}

// IndexForAngle recovers the projection index of an angle read from input.
// Angles are compared modulo 360 degrees.
func (s *ScanConfig) IndexForAngle(angle float64) (int, error) {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return -1, fmt.Errorf("%w: angle %g", ErrAngleOffGrid, angle)
	}

	step := s.params.StepAngle
	offset := math.Mod(angle-s.params.Aperture/2, 360)
	if offset < 0 {
		offset += 360
	}
	if 360-offset <= angleTolerance*step {
		offset = 0
	}

	index := int(math.Round(offset / step))
	if math.Abs(offset-float64(index)*step) > angleTolerance*step {
		return -1, fmt.Errorf("%w: %g° is not a multiple of the %g° step from %g°", ErrAngleOffGrid, angle, step, s.params.Aperture/2)
	}
	if index >= s.nProjections {
		return -1, fmt.Errorf("%w: %g° lies outside the %g° aperture", ErrAngleOffGrid, angle, s.params.Aperture)
	}
	return index, nil
}

// SourcePosition returns the X-ray source position for a projection index.
// The source is always level with the detector center (Z = 0).
func (s *ScanConfig) SourcePosition(index int) Point3D {
	d := s.params.SourceDistance
	return Point3D{
		-s.sinTable[index] * d,
		s.cosTable[index] * d,
		0,
	}
}

// PixelPosition returns the center of pixel (row, col) of a side x side
// detector for the given projection index.
func (s *ScanConfig) PixelPosition(index, side, row, col int) Point3D {
	size := s.params.PixelSize
	// distance from the detector center to the center of the first pixel
	dFirst := float64(side)*size/2 - size/2
	sin, cos := s.sinTable[index], s.cosTable[index]
	u := -dFirst + float64(col)*size
	v := -dFirst + float64(row)*size
	d := s.params.DetectorDistance

	return Point3D{
		d*sin + cos*u,
		-d*cos + sin*u,
		v,
	}
}

// Ray builds the ray from the source to pixel (row, col) of a projection.
func (s *ScanConfig) Ray(index, side, row, col int) Ray {
	return Ray{
		Source: s.SourcePosition(index),
		Pixel:  s.PixelPosition(index, side, row, col),
	}
}

// CheckDetector verifies a projection side length against the configured
// detector size, if one was configured.
func (s *ScanConfig) CheckDetector(side int) error {
	if s.params.DetectorPixels != 0 && side != s.params.DetectorPixels {
		return fmt.Errorf("%w: projection side %d differs from configured detector size %d", ErrInvalidConfig, side, s.params.DetectorPixels)
	}
	return nil
}

// NewVolume allocates the zeroed volume described by the scan.
func (s *ScanConfig) NewVolume() *models.Volume {
	return models.NewVolume(s.params.VoxelCount, s.params.VoxelSize)
}
