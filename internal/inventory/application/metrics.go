package application

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	acquired  prometheus.Counter
	rejected  prometheus.Counter
	released  prometheus.Counter
	committed prometheus.Counter
	expired   prometheus.Counter
	lockWait  prometheus.Histogram
}

// NewMetrics builds the reservation collectors and registers them with reg
// when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory", Name: "reservations_acquired_total",
			Help: "Reservations created by Acquire.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory", Name: "reservations_rejected_total",
			Help: "Acquire calls refused for insufficient stock.",
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory", Name: "reservations_released_total",
			Help: "Reservations released by unlock or order cancellation.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory", Name: "reservations_committed_total",
			Help: "Reservations linked to orders.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory", Name: "reservations_expired_total",
			Help: "Reservations reclaimed by the expiry sweeper.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inventory", Name: "acquire_duration_seconds",
			Help:    "Time spent in Acquire, including the wait for the variant lock.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 3},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.acquired, m.rejected, m.released, m.committed, m.expired, m.lockWait)
	}
	return m
}

func (m *Metrics) Acquired() prometheus.Counter { return m.acquired }
func (m *Metrics) Rejected() prometheus.Counter { return m.rejected }
