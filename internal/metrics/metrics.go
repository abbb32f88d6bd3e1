package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeError   = "error"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_ticks_total",
		Help: "Tick events handed to instrument timelines, by source and outcome",
	}, []string{"source", "outcome"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_dropped_total",
		Help: "Input rows or messages dropped before becoming a tick event",
	}, []string{"why"})

	BootstrapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wrangler_bootstraps_total",
		Help: "Instruments that received their summary state",
	})

	RowUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wrangler_row_updates_total",
		Help: "Cross-section row updates emitted by the synchronizer",
	})

	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wrangler_watermark_seconds",
		Help: "Latest synchronized row time as unix seconds",
	})

	PublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wrangler_publish_errors_total",
		Help: "Rows that failed to publish downstream",
	})
)

// ObserveApply records the outcome of one Timeline.Apply call.
func ObserveApply(source string, applied bool, err error) {
	switch {
	case err != nil:
		TicksTotal.WithLabelValues(source, OutcomeError).Inc()
	case applied:
		TicksTotal.WithLabelValues(source, OutcomeApplied).Inc()
	default:
		TicksTotal.WithLabelValues(source, OutcomeIgnored).Inc()
	}
}
