package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	orders          *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	stockRejected   *prometheus.CounterVec
	inbound         prometheus.Counter
	auditApprovals  prometheus.Counter
	auditAdjusts    prometheus.Counter
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distrochain_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distrochain_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distrochain_orders_submitted_total",
		Help: "Order submissions by outcome (created or deduped).",
	}, []string{"outcome"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distrochain_invoices_total",
		Help: "Invoice generation calls by outcome (created or existing).",
	}, []string{"outcome"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distrochain_stock_rejections_total",
		Help: "Stock mutations rolled back on an integrity error, per module.",
	}, []string{"module"})
	inbound := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distrochain_inbound_allocations_total",
		Help: "Inbound orders packed from stock lots.",
	})
	approvals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distrochain_stock_audit_approvals_total",
		Help: "Warehouse stock audits approved.",
	})
	adjusts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distrochain_stock_audit_adjustments_total",
		Help: "Batch adjustments applied by approved stock audits.",
	})
	registry.MustRegister(requests, duration, orders, invoices, rejected, inbound, approvals, adjusts)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		orders:          orders,
		invoices:        invoices,
		stockRejected:   rejected,
		inbound:         inbound,
		auditApprovals:  approvals,
		auditAdjusts:    adjusts,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// OrderSubmitted counts an order intake call.
func (m *Metrics) OrderSubmitted(deduped bool) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome(deduped, "deduped", "created")).Inc()
}

// InvoiceGenerated counts an invoice generation call.
func (m *Metrics) InvoiceGenerated(already bool) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(outcome(already, "existing", "created")).Inc()
}

// StockRejected counts a rolled back stock mutation.
func (m *Metrics) StockRejected(module string) {
	if m == nil {
		return
	}
	m.stockRejected.WithLabelValues(module).Inc()
}

// InboundAllocated counts a packed inbound order.
func (m *Metrics) InboundAllocated() {
	if m == nil {
		return
	}
	m.inbound.Inc()
}

// AuditApproved counts an approval and the adjustments it applied.
func (m *Metrics) AuditApproved(adjustments int) {
	if m == nil {
		return
	}
	m.auditApprovals.Inc()
	if adjustments > 0 {
		m.auditAdjusts.Add(float64(adjustments))
	}
}

func outcome(flag bool, yes, no string) string {
	if flag {
		return yes
	}
	return no
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
