package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SlotMetrics exposes counters/histograms for slot computation and booking outcomes.
type SlotMetrics struct {
	computations   *prometheus.CounterVec
	slotsReturned  prometheus.Histogram
	computeLatency prometheus.Histogram
	bookings       *prometheus.CounterVec
}

func NewSlotMetrics(reg prometheus.Registerer) *SlotMetrics {
	m := &SlotMetrics{
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "computations_total",
			Help:      "Slot computations by outcome (ok, empty, invalid_input, unknown_timezone, error)",
		}, []string{"outcome"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of slots returned per computation",
			Buckets:   []float64{0, 1, 4, 8, 16, 32, 64, 96},
		}),
		computeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "compute_seconds",
			Help:      "Latency of a full slot lookup including schedule and booking reads",
			Buckets:   prometheus.DefBuckets,
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by result (booked, conflict, rejected, error)",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.computations, m.slotsReturned, m.computeLatency, m.bookings)
	return m
}

func (m *SlotMetrics) ObserveComputation(outcome string, slots int, seconds float64) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(outcome).Inc()
	if outcome == "ok" || outcome == "empty" {
		m.slotsReturned.Observe(float64(slots))
	}
	m.computeLatency.Observe(seconds)
}

func (m *SlotMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
