package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moments_broadcast"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	broadcastsStartedTotal *prometheus.CounterVec
	broadcastsRejected     *prometheus.CounterVec
	broadcastsCompleted    prometheus.Counter
	messagesSentTotal      *prometheus.CounterVec
	messagesFailedTotal    *prometheus.CounterVec
	messageSendDuration    *prometheus.HistogramVec
	adaptiveDelay          prometheus.Histogram
	batchesInflight        prometheus.Gauge
	batchRetriesTotal      *prometheus.CounterVec
	sweeperActionsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		broadcastsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_started_total",
				Help:      "Broadcasts planned and triggered, by origin.",
			},
			[]string{"origin"},
		),
		broadcastsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_rejected_total",
				Help:      "Broadcast attempts rejected before any send, by reason.",
			},
			[]string{"reason"},
		),
		broadcastsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_completed_total",
				Help:      "Broadcasts whose batches all reached completed.",
			},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Messages accepted by the messaging API, by channel.",
			},
			[]string{"channel"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_failed_total",
				Help:      "Messages that failed after transport retries, by channel and reason.",
			},
			[]string{"channel", "reason"},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Messaging API send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		adaptiveDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "adaptive_delay_seconds",
				Help:      "Adaptive inter-send delay at the end of each batch generation.",
				Buckets:   []float64{0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45, 0.5},
			},
		),
		batchesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batches_inflight",
				Help:      "Batches currently being dispatched by this process.",
			},
		),
		batchRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_retries_total",
				Help:      "Batches returned to pending, by cause.",
			},
			[]string{"cause"},
		),
		sweeperActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeper_actions_total",
				Help:      "Retry sweeper actions, by action.",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.broadcastsStartedTotal,
		m.broadcastsRejected,
		m.broadcastsCompleted,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messageSendDuration,
		m.adaptiveDelay,
		m.batchesInflight,
		m.batchRetriesTotal,
		m.sweeperActionsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBroadcastStarted(origin string) {
	if m == nil {
		return
	}
	m.broadcastsStartedTotal.WithLabelValues(label(origin)).Inc()
}

func (m *Metrics) IncBroadcastRejected(reason string) {
	if m == nil {
		return
	}
	m.broadcastsRejected.WithLabelValues(label(reason)).Inc()
}

func (m *Metrics) IncBroadcastCompleted() {
	if m == nil {
		return
	}
	m.broadcastsCompleted.Inc()
}

func (m *Metrics) IncMessageSent(channel string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(label(channel)).Inc()
}

func (m *Metrics) IncMessageFailed(channel string, reason string) {
	if m == nil {
		return
	}
	m.messagesFailedTotal.WithLabelValues(label(channel), label(reason)).Inc()
}

func (m *Metrics) ObserveMessageSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.messageSendDuration.WithLabelValues(label(channel)).Observe(nonNegative(duration))
}

func (m *Metrics) ObserveAdaptiveDelay(delay time.Duration) {
	if m == nil {
		return
	}
	m.adaptiveDelay.Observe(nonNegative(delay))
}

func (m *Metrics) IncBatchesInFlight() {
	if m == nil {
		return
	}
	m.batchesInflight.Inc()
}

func (m *Metrics) DecBatchesInFlight() {
	if m == nil {
		return
	}
	m.batchesInflight.Dec()
}

func (m *Metrics) IncBatchRetry(cause string) {
	if m == nil {
		return
	}
	m.batchRetriesTotal.WithLabelValues(label(cause)).Inc()
}

func (m *Metrics) AddSweeperActions(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperActionsTotal.WithLabelValues(label(action)).Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func label(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func nonNegative(d time.Duration) float64 {
	if s := d.Seconds(); s > 0 {
		return s
	}
	return 0
}
