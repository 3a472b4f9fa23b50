// Package metrics provides Prometheus metrics for the console.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmconsole_operations_total",
			Help: "Dispatched sidebar operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	staleReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vmconsole_stale_reloads_total",
			Help: "Tree reload responses discarded because a newer reload was applied",
		},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vmconsole_upstream_request_duration_seconds",
			Help:    "Management server call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call", "result"},
	)

	consoleSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmconsole_console_sessions",
			Help: "Open remote console relays",
		},
	)

	treeFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vmconsole_tree_folders",
			Help: "Folders in the last applied tree",
		},
	)
)

// RecordOperation counts a dispatched operation.
func RecordOperation(operation, outcome string) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordStaleReload counts a discarded reload.
func RecordStaleReload() {
	staleReloadsTotal.Inc()
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(call string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	upstreamDuration.WithLabelValues(call, result).Observe(d.Seconds())
}

// ConsoleOpened and ConsoleClosed track relay sessions.
func ConsoleOpened() { consoleSessions.Inc() }
func ConsoleClosed() { consoleSessions.Dec() }

// SetTreeFolders records the folder count of the applied tree.
func SetTreeFolders(n int) {
	treeFolders.Set(float64(n))
}

// Handler serves the registry through fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
