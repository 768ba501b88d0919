package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meldung/internal"
)

const (
	outcomeMatched = "matched"
	outcomeNoMatch = "no_location"
	outcomeFailed  = "failed"
)

// Metrics keeps its own registry so several servers can live in one
// process, as they do in tests.
type Metrics struct {
	registry    *prometheus.Registry
	extractions *prometheus.CounterVec
	confidence  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meldung_extractions_total",
			Help: "Email extractions by outcome.",
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meldung_location_confidence",
			Help:    "Confidence of successful extractions.",
			Buckets: []float64{0, 0.5, 0.7, 0.8, 0.85, 0.95, 0.99, 1},
		}),
	}
	m.registry.MustRegister(
		m.extractions,
		m.confidence,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveExtraction(res internal.ExtractionResult) {
	switch {
	case !res.Success:
		m.extractions.WithLabelValues(outcomeFailed).Inc()
		return
	case res.LocationID == nil:
		m.extractions.WithLabelValues(outcomeNoMatch).Inc()
	default:
		m.extractions.WithLabelValues(outcomeMatched).Inc()
	}
	m.confidence.Observe(res.Confidence)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
