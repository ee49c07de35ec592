package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sconeworks/dispatchml/types"
)

// Collector aggregates pipeline metrics for prometheus scraping.
type Collector struct {
	itemsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	batchSize     prometheus.Histogram
}

// NewCollector creates a Collector registered on its own registry. The
// registry is exposed so callers can mount an exporter or inspect
// metrics in tests.
func NewCollector(namespace string) (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	c := &Collector{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Pipeline items by terminal outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Stage failures by error code",
			},
			[]string{"stage", "code"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Submitted batch sizes",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	reg.MustRegister(c.itemsTotal, c.stageDuration, c.stageErrors, c.batchSize)
	return c, reg
}

// ItemDone counts one item's terminal outcome.
func (c *Collector) ItemDone(outcome string) {
	c.itemsTotal.WithLabelValues(outcome).Inc()
}

// StageDone records one stage execution.
func (c *Collector) StageDone(stage string, d time.Duration, err error) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		code := string(types.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		c.stageErrors.WithLabelValues(stage, code).Inc()
	}
}

// BatchSubmitted records the size of a submitted batch.
func (c *Collector) BatchSubmitted(size int) {
	c.batchSize.Observe(float64(size))
}
