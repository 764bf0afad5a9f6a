package selector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.ntppool.org/clustermon/readpref"
)

const (
	resultOK           = "ok"
	resultInvalid      = "invalid"
	resultIncompatible = "incompatible"
	resultTimeout      = "timeout"
	resultCanceled     = "canceled"
)

// Metrics contains the prometheus metrics for server selection
type Metrics struct {
	Selections        *prometheus.CounterVec
	SelectionDuration *prometheus.HistogramVec
	Attempts          *prometheus.HistogramVec
}

// NewMetrics creates and registers the selection metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "selector_selections_total",
				Help: "Total number of server selections by read preference mode and result",
			},
			[]string{"mode", "result"},
		),

		SelectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "selector_selection_duration_seconds",
				Help:    "Time spent selecting a server in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"mode", "result"},
		),

		// attempts above one mean the first snapshot had no suitable server
		Attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "selector_selection_attempts",
				Help:    "Number of snapshot attempts per server selection",
				Buckets: []float64{1, 2, 5, 10, 50, 100, 1000},
			},
			[]string{"mode"},
		),
	}

	reg.MustRegister(
		m.Selections,
		m.SelectionDuration,
		m.Attempts,
	)

	return m
}

// observe records one finished selection. A nil *Metrics records nothing.
func (m *Metrics) observe(mode readpref.Mode, result string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.Selections.WithLabelValues(mode.String(), result).Inc()
	m.SelectionDuration.WithLabelValues(mode.String(), result).Observe(d.Seconds())
	m.Attempts.WithLabelValues(mode.String()).Observe(float64(attempts))
}
