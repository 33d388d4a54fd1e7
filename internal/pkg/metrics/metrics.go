package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoincidence",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoincidence",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Upstream query metrics
	UpstreamQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "upstream",
		Name:      "queries_total",
		Help:      "Total per-service intersection queries by outcome",
	}, []string{"service", "kind", "status"})

	UpstreamQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoincidence",
		Subsystem: "upstream",
		Name:      "query_duration_seconds",
		Help:      "Latency of per-service intersection queries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 60},
	}, []string{"kind"})

	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "auth",
		Name:      "token_requests_total",
		Help:      "Total token authority requests by result",
	}, []string{"result"})

	// Round metrics
	Rounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "incidence",
		Name:      "rounds_total",
		Help:      "Total query rounds by overall result",
	}, []string{"result"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoincidence",
		Subsystem: "incidence",
		Name:      "round_duration_seconds",
		Help:      "Duration of a full query round",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoincidence",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoincidence",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
