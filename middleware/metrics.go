package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders that reached the payment redirect",
		},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of order status transitions",
		},
		[]string{"from", "to"},
	)

	orderCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_compensations_total",
			Help: "Total number of order creations rolled back, by failed step",
		},
		[]string{"step"},
	)

	orderReconciliationCandidatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_reconciliation_candidates_total",
			Help: "Total number of orders whose payment session could not be linked",
		},
	)

	notificationsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of notifications appended",
		},
		[]string{"type", "result"},
	)

	paymentWebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Total number of payment provider callbacks processed",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ordersCreatedTotal)
	prometheus.MustRegister(orderTransitionsTotal)
	prometheus.MustRegister(orderCompensationsTotal)
	prometheus.MustRegister(orderReconciliationCandidatesTotal)
	prometheus.MustRegister(notificationsEmittedTotal)
	prometheus.MustRegister(paymentWebhooksTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderCreated() {
	ordersCreatedTotal.Inc()
}

func RecordOrderTransition(from, to string) {
	orderTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordOrderCompensation(step string) {
	orderCompensationsTotal.WithLabelValues(step).Inc()
}

func RecordReconciliationCandidate() {
	orderReconciliationCandidatesTotal.Inc()
}

func RecordNotificationEmitted(notificationType, result string) {
	notificationsEmittedTotal.WithLabelValues(notificationType, result).Inc()
}

func RecordPaymentWebhook(kind, result string) {
	paymentWebhooksTotal.WithLabelValues(kind, result).Inc()
}
