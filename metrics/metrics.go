// Package metrics exposes parse outcomes as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Parse status label values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

type Collector struct {
	Parses     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Confidence *prometheus.HistogramVec
	Elements   *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		Parses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastitch_parses_total",
				Help: "Total number of parsed files by format and outcome.",
			},
			[]string{"format", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastitch_parse_duration_seconds",
				Help:    "Wall-clock time spent parsing one file.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
			},
			[]string{"format"},
		),
		Confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metastitch_parse_confidence",
				Help:    "Confidence score of successful parses.",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"format"},
		),
		Elements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metastitch_elements_total",
				Help: "Total number of structured elements emitted.",
			},
			[]string{"format", "element_type"},
		),
	}
}

func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.Parses,
		c.Duration,
		c.Confidence,
		c.Elements,
	)
}

// Observe records one finished parse. Degraded results only count toward
// parses and duration.
func (c *Collector) Observe(format string, res *parser.ParseResult, elapsed time.Duration) {
	c.Duration.WithLabelValues(format).Observe(elapsed.Seconds())
	if res == nil || res.Failed() {
		c.Parses.WithLabelValues(format, StatusDegraded).Inc()
		return
	}
	c.Parses.WithLabelValues(format, StatusOK).Inc()
	c.Confidence.WithLabelValues(format).Observe(res.ConfidenceScore)
	for _, e := range res.StructuredElements {
		c.Elements.WithLabelValues(format, string(e.Type)).Inc()
	}
}
