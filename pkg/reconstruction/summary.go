package reconstruction

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctbackprojector/internal/models"
)

// Summary describes the distribution of coefficients in a volume.
type Summary struct {
	Min, Max     float64
	Mean, StdDev float64

	// NonZero is the number of voxels touched by at least one ray
	NonZero int
}

// Summarize computes the Summary of vol.
func Summarize(vol *models.Volume) Summary {
	data := vol.Data()
	if len(data) == 0 {
		return Summary{}
	}

	var s Summary
	s.Mean, s.StdDev = stat.MeanStdDev(data, nil)
	s.Min = floats.Min(data)
	s.Max = floats.Max(data)
	for _, v := range data {
		if v != 0 {
			s.NonZero++
		}
	}
	return s
}
