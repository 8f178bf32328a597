// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callgate/callgate/internal/db"
)

var (
	// Registry holds the gateway-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "callgate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests dispatched.",
		},
		[]string{"method", "entry", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of dispatched HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "entry"},
	)

	dbCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgate",
			Subsystem: "db",
			Name:      "calls_total",
			Help:      "Total number of database statements and procedure calls.",
		},
		[]string{"success"},
	)

	dbCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "callgate",
			Subsystem: "db",
			Name:      "call_duration_seconds",
			Help:      "Duration of database statements and procedure calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	routeTableSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "callgate",
			Subsystem: "router",
			Name:      "route_entries",
			Help:      "Number of entries in the active route table.",
		},
	)
)

func init() {
	Registry.MustRegister(httpInFlight, httpRequests, httpDuration, dbCalls, dbCallDuration, routeTableSize)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks one request in flight.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks one request complete.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordDispatch records one dispatched request.
func RecordDispatch(method, entry string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, entry, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, entry).Observe(duration.Seconds())
}

// SetRouteTableSize records the active route table size.
func SetRouteTableSize(n int) { routeTableSize.Set(float64(n)) }

// CallObserver adapts database call records to the Prometheus
// collectors.
type CallObserver struct{}

func (CallObserver) ObserveCall(info db.CallInfo) {
	dbCalls.WithLabelValues(strconv.FormatBool(info.Success)).Inc()
	dbCallDuration.Observe(info.Duration.Seconds())
}
