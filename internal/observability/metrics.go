package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_http_requests_total",
			Help: "Total number of HTTP requests processed by the messenger service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messenger_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messenger_ws_active_sessions",
			Help: "Number of active websocket sessions.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_ws_events_total",
			Help: "Total number of websocket session events.",
		},
		[]string{"kind", "event"},
	)
	busPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_bus_publish_errors_total",
			Help: "Total number of broadcast bus publish errors.",
		},
	)
	sweepDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_sweep_deliveries_total",
			Help: "Total number of scheduled message sweep outcomes.",
		},
		[]string{"outcome"},
	)
	notifyPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_notify_publish_errors_total",
			Help: "Total number of notification publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSessions,
		wsEventsTotal,
		busPublishErrorsTotal,
		sweepDeliveriesTotal,
		notifyPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveSessions.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveSessions.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncBusPublishError() {
	busPublishErrorsTotal.Inc()
}

func IncSweepDelivery(outcome string) {
	sweepDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncNotifyPublishError() {
	notifyPublishErrorsTotal.Inc()
}
