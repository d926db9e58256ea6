// Package metrics defines the Prometheus collectors of the service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-dfe/pkg/distribution"
)

// Request sources
const (
	SourceAPI  = "api"
	SourceSync = "sync"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	DistributionCalls    *prometheus.CounterVec
	DistributionDuration *prometheus.HistogramVec
	Documents            *prometheus.CounterVec
	DocumentsSkipped     prometheus.Counter
	SyncRuns             *prometheus.CounterVec
	CursorNSU            *prometheus.GaugeVec
	HTTPRequests         *prometheus.CounterVec
}

// New creates a registry and registers all metrics in it
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DistributionCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfe_distribution_calls_total",
			Help: "Distribution calls by source and outcome (cStat or error kind)",
		}, []string{"source", "outcome"}),
		DistributionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dfe_distribution_call_duration_seconds",
			Help:    "Duration of distribution calls, signing and decoding included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		Documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfe_documents_received_total",
			Help: "Documents decoded from distribution batches by kind",
		}, []string{"kind"}),
		DocumentsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dfe_documents_skipped_total",
			Help: "Batch items dropped because they could not be decoded",
		}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfe_sync_runs_total",
			Help: "Background sync runs per company by result",
		}, []string{"result"}),
		CursorNSU: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dfe_cursor_nsu",
			Help: "Last NSU stored per tax ID",
		}, []string{"tax_id"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dfe_http_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall records one distribution call. outcome is the cStat on success
// or the error kind on failure. Call with time.Now() at the start of the call.
func (m *Metrics) ObserveCall(source, outcome string, start time.Time, result *distribution.Result) {
	if m == nil {
		return
	}
	m.DistributionCalls.WithLabelValues(source, outcome).Inc()
	m.DistributionDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if result == nil {
		return
	}
	for _, d := range result.Documents {
		m.Documents.WithLabelValues(string(d.Meta().Kind)).Inc()
	}
	if result.Skipped > 0 {
		m.DocumentsSkipped.Add(float64(result.Skipped))
	}
}

// ObserveSyncRun records the result of one company run
func (m *Metrics) ObserveSyncRun(result string) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(result).Inc()
}

// SetCursor records the stored cursor of a tax ID
func (m *Metrics) SetCursor(taxID string, nsu uint64) {
	if m == nil {
		return
	}
	m.CursorNSU.WithLabelValues(taxID).Set(float64(nsu))
}

// ObserveHTTP records one API response
func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
