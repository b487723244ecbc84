package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal     *prometheus.CounterVec
	clampedAdjustments prometheus.Counter
	ledgerEntriesTotal *prometheus.CounterVec
	discrepancies      *prometheus.GaugeVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gerai_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gerai_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gerai_stock_movements_total",
		Help: "Stock movements posted, by movement type.",
	}, []string{"type"})
	clamped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gerai_stock_clamped_adjustments_total",
		Help: "Decreases that were clamped at zero instead of going negative.",
	})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gerai_ledger_entries_total",
		Help: "Ledger entries posted, by party kind and entry type.",
	}, []string{"party", "type"})
	discrepancies := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gerai_reconcile_discrepancies",
		Help: "Discrepancies found by the last reconciliation run, by check.",
	}, []string{"check"})
	registry.MustRegister(requests, duration, movements, clamped, entries, discrepancies)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		movementsTotal:     movements,
		clampedAdjustments: clamped,
		ledgerEntriesTotal: entries,
		discrepancies:      discrepancies,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// MovementPosted counts a stock movement of the given type.
func (m *Metrics) MovementPosted(movementType string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(movementType).Inc()
}

// AdjustmentClamped counts a decrease that bottomed out at zero.
func (m *Metrics) AdjustmentClamped() {
	if m == nil {
		return
	}
	m.clampedAdjustments.Inc()
}

// LedgerEntryPosted counts a ledger entry.
func (m *Metrics) LedgerEntryPosted(party, entryType string) {
	if m == nil {
		return
	}
	m.ledgerEntriesTotal.WithLabelValues(party, entryType).Inc()
}

// SetDiscrepancies publishes the result of a reconciliation check.
func (m *Metrics) SetDiscrepancies(check string, n int) {
	if m == nil {
		return
	}
	m.discrepancies.WithLabelValues(check).Set(float64(n))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
