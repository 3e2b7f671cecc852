package backprojection

import (
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/siddon"
)

// newSingleViewScan describes one projection at 0 degrees: the source sits
// on +Y and the detector faces it on -Y.
func newSingleViewScan(t *testing.T) *geometry.ScanConfig {
	t.Helper()
	s, err := geometry.NewScanConfig(geometry.Params{
		VoxelSize:        [3]float64{100, 100, 100},
		VoxelCount:       [3]int{10, 10, 10},
		PixelSize:        85,
		Aperture:         0,
		StepAngle:        15,
		SourceDistance:   6000,
		DetectorDistance: 1500,
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.NumProjections())
	return s
}

func uniformProjection(side int, value float64) *models.Projection {
	p := models.NewProjection(0, side)
	p.Index = 0
	p.MaxVal = 1
	for i := range p.Pixels {
		p.Pixels[i] = value
	}
	return p
}

func TestUniformProjectionFillsFan(t *testing.T) {
	scan := newSingleViewScan(t)
	vol := scan.NewVolume()
	b := New(scan, vol, Options{RowWorkers: 4})

	stats, err := b.Backproject(uniformProjection(8, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(64), stats.Rays)
	assert.Zero(t, stats.Missed)
	assert.Positive(t, stats.Segments)

	// The outermost rays stay within |x|, |z| < 300 inside the volume.
	outside := func(i int) bool { return i <= 1 || i >= 8 }
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				v := vol.AtVoxel(x, y, z)
				switch {
				case outside(x) || outside(z):
					assert.Zero(t, v, "voxel (%d,%d,%d)", x, y, z)
				case (x == 4 || x == 5) && (z == 4 || z == 5):
					assert.Positive(t, v, "voxel (%d,%d,%d)", x, y, z)
				}
				assert.GreaterOrEqual(t, v, 0.0)
			}
		}
	}
}

func TestDepositedMassMatchesPathLengths(t *testing.T) {
	scan := newSingleViewScan(t)
	vol := scan.NewVolume()
	b := New(scan, vol, Options{RowWorkers: 3})

	const side = 12
	_, err := b.Backproject(uniformProjection(side, 1))
	require.NoError(t, err)

	tracer := siddon.NewTracer(scan)
	want := 0.0
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			r := scan.Ray(0, side, row, col)
			if path, ok := tracer.Trace(r); ok {
				want += r.Length() * (path.AMax - path.AMin)
			}
		}
	}
	want /= scan.PathNormalization()

	assert.InEpsilon(t, want, floats.Sum(vol.Data()), 1e-9)
}

func TestSymmetricProjectionGivesMirroredVolume(t *testing.T) {
	scan := newSingleViewScan(t)
	vol := scan.NewVolume()
	b := New(scan, vol, Options{RowWorkers: 2})

	const side = 16
	p := models.NewProjection(0, side)
	p.Index = 0
	c := float64(side-1) / 2
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			d2 := (float64(row)-c)*(float64(row)-c) + (float64(col)-c)*(float64(col)-c)
			p.Pixels[row*side+col] = math.Exp(-d2 / 20)
		}
	}
	p.UpdateRange()

	_, err := b.Backproject(p)
	require.NoError(t, err)

	data := vol.Data()
	tol := 1e-9 * floats.Max(data)
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				v := vol.AtVoxel(x, y, z)
				assert.InDelta(t, v, vol.AtVoxel(9-x, y, z), tol, "x mirror of (%d,%d,%d)", x, y, z)
				assert.InDelta(t, v, vol.AtVoxel(x, y, 9-z), tol, "z mirror of (%d,%d,%d)", x, y, z)
			}
		}
	}
}

func TestBackprojectIsRepeatableAfterReset(t *testing.T) {
	s, err := geometry.NewScanConfig(geometry.Params{
		VoxelSize:        [3]float64{100, 100, 100},
		VoxelCount:       [3]int{10, 10, 10},
		PixelSize:        85,
		Aperture:         90,
		StepAngle:        15,
		SourceDistance:   6000,
		DetectorDistance: 1500,
	})
	require.NoError(t, err)

	vol := s.NewVolume()
	b := New(s, vol, Options{RowWorkers: 4})

	run := func() []float64 {
		vol.Reset()
		for i := 0; i < s.NumProjections(); i++ {
			p := uniformProjection(10, 0.5)
			p.Index = i
			p.Angle = s.AngleOf(i)
			_, err := b.Backproject(p)
			require.NoError(t, err)
		}
		return vol.Data()
	}

	first := run()
	second := run()
	require.Len(t, second, len(first))
	tol := 1e-12 * floats.Max(first)
	for i := range first {
		assert.InDelta(t, first[i], second[i], tol)
	}
}

func TestBackprojectRejectsInvalidProjections(t *testing.T) {
	scan := newSingleViewScan(t)
	b := New(scan, scan.NewVolume(), Options{})

	unresolved := uniformProjection(4, 1)
	unresolved.Index = -1

	outOfRange := uniformProjection(4, 1)
	outOfRange.Index = 1

	flat := uniformProjection(4, 1)
	flat.MaxVal = flat.MinVal

	short := uniformProjection(4, 1)
	short.Pixels = short.Pixels[:10]

	for name, p := range map[string]*models.Projection{
		"unresolved":   unresolved,
		"out of range": outOfRange,
		"flat range":   flat,
		"short pixels": short,
	} {
		_, err := b.Backproject(p)
		assert.True(t, errors.Is(err, models.ErrInvalidProjection), name)
	}
	assert.Zero(t, floats.Sum(b.Volume().Data()))
}

func TestMetricsAreUpdated(t *testing.T) {
	scan := newSingleViewScan(t)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b := New(scan, scan.NewVolume(), Options{RowWorkers: 2, Metrics: m})

	// a wide detector so the outer rays miss the volume
	p := uniformProjection(40, 1)
	stats, err := b.Backproject(p)
	require.NoError(t, err)
	require.Positive(t, stats.Missed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Projections))
	assert.Equal(t, 1600.0, testutil.ToFloat64(m.Rays))
	assert.Equal(t, float64(stats.Missed), testutil.ToFloat64(m.Missed))
	assert.Equal(t, float64(stats.Segments), testutil.ToFloat64(m.Segments))

	n, err := testutil.GatherAndCount(reg, "ctbackprojector_backprojection_projection_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestZeroIntensityDepositsNothing(t *testing.T) {
	scan := newSingleViewScan(t)
	b := New(scan, scan.NewVolume(), Options{RowWorkers: 1})

	stats, err := b.Backproject(uniformProjection(6, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(36), stats.Rays)
	assert.Zero(t, floats.Sum(b.Volume().Data()))

	// segments are counted whether or not anything was deposited
	lit, err := New(scan, scan.NewVolume(), Options{RowWorkers: 1}).Backproject(uniformProjection(6, 1))
	require.NoError(t, err)
	assert.Positive(t, stats.Segments)
	assert.Equal(t, lit.Segments, stats.Segments)
}
