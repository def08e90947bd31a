package metrics

import (
	"strconv"
	"time"

	"eddm-registry/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides observability for the opt-out registry.
type Metrics struct {
	Lookups              *prometheus.CounterVec
	Registrations        *prometheus.CounterVec
	Milestones           *prometheus.CounterVec
	LookupDuration       prometheus.Histogram
	RegistrationDuration prometheus.Histogram
}

// New creates the registry metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eddm_route_lookups_total",
			Help: "Carrier route lookups by outcome",
		}, []string{"outcome"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eddm_registrations_total",
			Help: "Opt-out submissions by result (new, repeat, failed)",
		}, []string{"result"}),
		Milestones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eddm_milestones_total",
			Help: "Route milestones reached by threshold",
		}, []string{"threshold"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eddm_lookup_duration_seconds",
			Help:    "Duration of address to carrier route resolution",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		RegistrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eddm_registration_duration_seconds",
			Help:    "Duration of opt-out registration including the store transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
	reg.MustRegister(m.Lookups, m.Registrations, m.Milestones, m.LookupDuration, m.RegistrationDuration)
	return m
}

// Notify implements events.Observer by counting analytics events. Events that carry an
// "elapsed" time.Duration also feed the latency histograms.
func (m *Metrics) Notify(event string, fields map[string]any) {
	elapsed, timed := fields["elapsed"].(time.Duration)

	switch event {
	case events.RouteLookup, events.RouteLookupFailed:
		outcome := "found"
		if event == events.RouteLookupFailed {
			outcome = "failed"
		}
		m.Lookups.WithLabelValues(outcome).Inc()
		if timed {
			m.LookupDuration.Observe(elapsed.Seconds())
		}
	case events.NewOptOut, events.RepeatOptOut, events.OptOutFailed:
		result := map[string]string{
			events.NewOptOut:    "new",
			events.RepeatOptOut: "repeat",
			events.OptOutFailed: "failed",
		}[event]
		m.Registrations.WithLabelValues(result).Inc()
		if timed {
			m.RegistrationDuration.Observe(elapsed.Seconds())
		}
	case events.MilestoneReached:
		threshold := "unknown"
		if t, ok := fields["threshold"].(int); ok {
			threshold = strconv.Itoa(t)
		}
		m.Milestones.WithLabelValues(threshold).Inc()
	}
}
