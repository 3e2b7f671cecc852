package backprojection

import (
	"ctbackprojector/internal/models"
	"ctbackprojector/pkg/geometry"
	"ctbackprojector/pkg/siddon"
)

// Accumulator deposits weighted segment lengths into a shared volume.
//
// The contribution of a segment is intensity * length / (DOS + DOD), where
// intensity is the normalized pixel value in [0, 1]. Deposits are atomic so
// an Accumulator may be used from any number of goroutines.
type Accumulator struct {
	scan   *geometry.ScanConfig
	volume *models.Volume
	norm   float64
}

// NewAccumulator binds a volume to the scan it was allocated for.
func NewAccumulator(scan *geometry.ScanConfig, volume *models.Volume) *Accumulator {
	return &Accumulator{
		scan:   scan,
		volume: volume,
		norm:   scan.PathNormalization(),
	}
}

// Contribution is the value deposited for a segment of the given length.
func (a *Accumulator) Contribution(intensity, length float64) float64 {
	return intensity * length / a.norm
}

// Deposit adds the contribution of one segment to its voxel.
func (a *Accumulator) Deposit(voxel [3]int, intensity, length float64) {
	a.volume.Add(a.volume.Index(voxel[0], voxel[1], voxel[2]), a.Contribution(intensity, length))
}

// AccumulateRay traces r with t and deposits every segment. It reports the
// number of segments traversed and whether the ray hit the volume at all.
// A zero intensity traverses the path without writing to the volume.
func (a *Accumulator) AccumulateRay(t *siddon.Tracer, r geometry.Ray, intensity float64) (segments int, hit bool) {
	path, ok := t.Trace(r)
	if !ok {
		return 0, false
	}
	segments = siddon.ForEachSegment(a.scan, r, path, func(voxel [3]int, length float64) {
		if intensity != 0 {
			a.Deposit(voxel, intensity, length)
		}
	})
	return segments, true
}

// Volume returns the volume the accumulator writes into.
func (a *Accumulator) Volume() *models.Volume { return a.volume }
