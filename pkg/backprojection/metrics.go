package backprojection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors updated by a Backprojector.
type Metrics struct {
	// Projections counts backprojected projections
	Projections prometheus.Counter

	// Rays counts traced rays, hits and misses alike
	Rays prometheus.Counter

	// Missed counts rays that did not intersect the volume
	Missed prometheus.Counter

	// Segments counts voxel segments deposited into the volume
	Segments prometheus.Counter

	// Duration observes the wall time of one projection
	Duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Projections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ctbackprojector",
			Subsystem: "backprojection",
			Name:      "projections_total",
			Help:      "Total projections backprojected",
		}),
		Rays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ctbackprojector",
			Subsystem: "backprojection",
			Name:      "rays_total",
			Help:      "Total source-to-pixel rays traced",
		}),
		Missed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ctbackprojector",
			Subsystem: "backprojection",
			Name:      "rays_missed_total",
			Help:      "Total rays that missed the volume",
		}),
		Segments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ctbackprojector",
			Subsystem: "backprojection",
			Name:      "segments_total",
			Help:      "Total voxel segments accumulated",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ctbackprojector",
			Subsystem: "backprojection",
			Name:      "projection_duration_seconds",
			Help:      "Time to backproject a single projection",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) observe(s Stats, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Projections.Inc()
	m.Rays.Add(float64(s.Rays))
	m.Missed.Add(float64(s.Missed))
	m.Segments.Add(float64(s.Segments))
	m.Duration.Observe(elapsed.Seconds())
}
