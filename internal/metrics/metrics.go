// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorCyclesTotal        *prometheus.CounterVec
	monitorErrorsTotal        *prometheus.CounterVec
	monitorItemsExtracted     prometheus.Counter
	monitorNotificationsTotal *prometheus.CounterVec
	monitorSuppressedTotal    *prometheus.CounterVec
	monitorResidentBytes      prometheus.Gauge
	monitorFetchSeconds       prometheus.Histogram
	monitorRestartsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_cycles_total",
				Help: "Total poll cycles executed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		monitorErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_errors_total",
				Help: "Total cycle errors, labeled by error class.",
			},
			[]string{"class"},
		)

		monitorItemsExtracted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_items_extracted_total",
				Help: "Total candidate items recovered from list pages.",
			},
		)

		monitorNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Total notification attempts, labeled by result.",
			},
			[]string{"result"},
		)

		monitorSuppressedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_suppressed_total",
				Help: "Items suppressed by deduplication, labeled by gate.",
			},
			[]string{"gate"},
		)

		monitorResidentBytes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_resident_memory_bytes",
				Help: "Last sampled process resident set size.",
			},
		)

		monitorFetchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_fetch_duration_seconds",
				Help:    "Histogram of list page fetch latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		monitorRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_restarts_total",
				Help: "Policy-driven restart requests, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records a completed cycle with its outcome label.
func ObserveCycle(outcome string) {
	monitorCyclesTotal.WithLabelValues(outcome).Inc()
}

// ObserveError counts a cycle error by its policy class.
func ObserveError(class string) {
	monitorErrorsTotal.WithLabelValues(class).Inc()
}

// ObserveExtracted counts recovered items.
func ObserveExtracted(n int) {
	if n > 0 {
		monitorItemsExtracted.Add(float64(n))
	}
}

// ObserveNotification records a delivery attempt result.
func ObserveNotification(delivered bool) {
	if delivered {
		monitorNotificationsTotal.WithLabelValues("delivered").Inc()
		return
	}
	monitorNotificationsTotal.WithLabelValues("failed").Inc()
}

// ObserveSuppressed counts a dedup suppression by gate name.
func ObserveSuppressed(gate string) {
	monitorSuppressedTotal.WithLabelValues(gate).Inc()
}

// SetResidentMemory updates the RSS gauge.
func SetResidentMemory(bytes uint64) {
	monitorResidentBytes.Set(float64(bytes))
}

// ObserveFetch records one list page fetch duration.
func ObserveFetch(d time.Duration) {
	monitorFetchSeconds.Observe(d.Seconds())
}

// ObserveRestart counts a restart request by reason.
func ObserveRestart(reason string) {
	monitorRestartsTotal.WithLabelValues(reason).Inc()
}
