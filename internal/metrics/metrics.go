// Package metrics records request and transfer counters for the gateway.
//
// The server and the transfer engine report through the Sink interface so
// that metrics stay optional: tests and embedded callers use Nop, the serve
// command wires a Prometheus-backed sink and exposes it on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives measurements from the request and transfer paths.
type Sink interface {
	// ObserveRequest records one finished API request.
	ObserveRequest(method, action, provider string, status int, elapsed time.Duration)
	// ObserveTransfer records payload bytes moved for an upload, download,
	// copy or zip operation against a provider.
	ObserveTransfer(op, provider string, bytes int64)
}

type nopSink struct{}

func (nopSink) ObserveRequest(string, string, string, int, time.Duration) {}
func (nopSink) ObserveTransfer(string, string, int64)                     {}

// Nop returns a sink that discards all measurements.
func Nop() Sink { return nopSink{} }

// Prometheus is a Sink backed by a private prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	transfer *prometheus.CounterVec
}

// NewPrometheus creates a sink with its own registry so repeated
// construction (tests, embedded servers) never trips duplicate
// registration.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, action, provider and status code.",
		}, []string{"method", "action", "provider", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time to serve an API request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		transfer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portage",
			Name:      "transfer_bytes_total",
			Help:      "Payload bytes moved per operation and provider.",
		}, []string{"op", "provider"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.transfer,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest implements Sink.
func (m *Prometheus) ObserveRequest(method, action, provider string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, action, provider, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveTransfer implements Sink.
func (m *Prometheus) ObserveTransfer(op, provider string, bytes int64) {
	if bytes < 0 {
		return
	}
	m.transfer.WithLabelValues(op, provider).Add(float64(bytes))
}

// Handler serves the scrape endpoint for this sink's registry.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ Sink = (*Prometheus)(nil)
var _ Sink = nopSink{}
